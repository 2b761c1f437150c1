package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/chunkplace/internal/config"
	"github.com/zzenonn/chunkplace/internal/logging"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "chunkplace",
	Short: "Resolve and record chunk-to-worker placement",
	Long: "chunkplace decides which worker owns each chunk of a partitioned table, " +
		"using placement recorded in the central state store and round-robin for the rest.",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to config.yaml")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.StringSlice("workers", nil, "ordered worker list for round-robin placement")
	flags.String("database", "", "database name")
	flags.String("table", "", "table name")
	flags.String("source-table", "", `table whose chunk map is used ("auto" picks the first chunked table)`)
	flags.String("store", config.BackendMemory, "metadata store backend (memory, dynamodb, ssm, nats)")
	flags.String("dump-file", "", "dump file backing the memory store")
	flags.String("dynamodb-table", "", "DynamoDB table holding the metadata tree")
	flags.String("ssm-prefix", "", "Parameter Store prefix holding the metadata tree")
	flags.String("nats-url", "", "NATS server URL")
	flags.String("nats-bucket", "", "JetStream KV bucket holding the metadata tree")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("Error configuring logging: %v", err)
	}
	logging.SetOutput(rootCmd.ErrOrStderr())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
