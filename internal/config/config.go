package config

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Store backends understood by the CLI.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendSSM      = "ssm"
	BackendNATS     = "nats"
)

// StoreConfig selects and parameterizes the metadata store client.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// DumpFile seeds the memory backend and receives its contents on exit.
	DumpFile      string `yaml:"dump_file"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	SSMPrefix     string `yaml:"ssm_prefix"`
	NATSURL       string `yaml:"nats_url"`
	NATSBucket    string `yaml:"nats_bucket"`
}

// SnapshotConfig controls erasure-coded archival of store dumps.
type SnapshotConfig struct {
	// Buckets are bucket specs such as "s3://name" or "gs://name".
	Buckets      []string `yaml:"buckets"`
	DataShards   int      `yaml:"data_shards"`
	ParityShards int      `yaml:"parity_shards"`
}

// Config holds the application configuration
type Config struct {
	LogLevel    string         `yaml:"log_level"`
	LogFormat   string         `yaml:"log_format"`
	Workers     []string       `yaml:"workers"`
	Database    string         `yaml:"database"`
	Table       string         `yaml:"table"`
	SourceTable string         `yaml:"source_table"`
	Store       StoreConfig    `yaml:"store"`
	Snapshot    SnapshotConfig `yaml:"snapshot"`
	// MetricsTextfile, when set, receives the Prometheus text exposition on exit.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:    viper.GetString("log_level"),
		LogFormat:   strings.ToLower(viper.GetString("log_format")),
		Workers:     splitList(viper.GetStringSlice("workers")),
		Database:    viper.GetString("database"),
		Table:       viper.GetString("table"),
		SourceTable: viper.GetString("source_table"),
		Store: StoreConfig{
			Backend:       strings.ToLower(viper.GetString("store.backend")),
			DumpFile:      viper.GetString("store.dump_file"),
			DynamoDBTable: viper.GetString("store.dynamodb_table"),
			SSMPrefix:     viper.GetString("store.ssm_prefix"),
			NATSURL:       viper.GetString("store.nats_url"),
			NATSBucket:    viper.GetString("store.nats_bucket"),
		},
		Snapshot: SnapshotConfig{
			Buckets:      splitList(viper.GetStringSlice("snapshot.buckets")),
			DataShards:   viper.GetInt("snapshot.data_shards"),
			ParityShards: viper.GetInt("snapshot.parity_shards"),
		},
		MetricsTextfile: viper.GetString("metrics_textfile"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.SetEnvPrefix("chunkplace")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if rootCmd != nil {
		if err := bindFlags(rootCmd); err != nil {
			return err
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// bindFlags maps dashed persistent flags of the root command and its direct
// subcommands onto their config keys.
func bindFlags(rootCmd *cobra.Command) error {
	keys := map[string]string{
		"log-level":        "log_level",
		"log-format":       "log_format",
		"workers":          "workers",
		"database":         "database",
		"table":            "table",
		"source-table":     "source_table",
		"store":            "store.backend",
		"dump-file":        "store.dump_file",
		"dynamodb-table":   "store.dynamodb_table",
		"ssm-prefix":       "store.ssm_prefix",
		"nats-url":         "store.nats_url",
		"nats-bucket":      "store.nats_bucket",
		"metrics-textfile": "metrics_textfile",
		"buckets":          "snapshot.buckets",
		"data-shards":      "snapshot.data_shards",
		"parity-shards":    "snapshot.parity_shards",
	}
	commands := append([]*cobra.Command{rootCmd}, rootCmd.Commands()...)
	for flag, key := range keys {
		for _, cmd := range commands {
			f := cmd.PersistentFlags().Lookup(flag)
			if f == nil {
				continue
			}
			if err := viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
			break
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("store.backend", BackendMemory)
	viper.SetDefault("store.dynamodb_table", "chunkplace_css")
	viper.SetDefault("store.ssm_prefix", "/chunkplace")
	viper.SetDefault("store.nats_url", "nats://127.0.0.1:4222")
	viper.SetDefault("store.nats_bucket", "chunkplace-css")
	viper.SetDefault("snapshot.data_shards", 4)
	viper.SetDefault("snapshot.parity_shards", 2)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendDynamoDB, BackendSSM, BackendNATS:
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Snapshot.DataShards <= 0 || c.Snapshot.ParityShards < 0 {
		return fmt.Errorf("invalid snapshot shard counts: data=%d parity=%d",
			c.Snapshot.DataShards, c.Snapshot.ParityShards)
	}
	return nil
}

// LoadAWSConfig loads AWS SDK configuration
func LoadAWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return cfg, nil
}

// LoadGCSClient loads Google Cloud Storage client
func LoadGCSClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %w", err)
	}
	return client, nil
}

// splitList flattens comma separated entries, which is how env vars carry lists.
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
