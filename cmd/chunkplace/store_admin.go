package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/chunkplace/internal/config"
	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/repository/db"
	"github.com/zzenonn/chunkplace/internal/service"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the schema marker to an empty store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		if err := css.Initialize(ctx, store); err != nil {
			closeStore()
			return err
		}
		if err := closeStore(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Store initialized with schema version %s\n", css.SchemaVersion)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Create or drop the DynamoDB metadata table",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		awsCfg, err := config.LoadAWSConfig(ctx)
		if err != nil {
			return err
		}
		dynamoDb, err := db.NewDatabase(awsCfg, cfg.Store.DynamoDBTable)
		if err != nil {
			return err
		}

		if args[0] == "down" {
			if err := dynamoDb.MigrateDown(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Metadata table dropped")
			return nil
		}
		if err := dynamoDb.MigrateDb(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Metadata table created")
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List DynamoDB tables tagged as chunk placement metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		awsCfg, err := config.LoadAWSConfig(ctx)
		if err != nil {
			return err
		}
		dynamoDb, err := db.NewDatabase(awsCfg, cfg.Store.DynamoDBTable)
		if err != nil {
			return err
		}
		tables, err := db.DiscoverTables(ctx, dynamoDb.TaggingClient)
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Write every store node as path<TAB>value lines",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, false)
		if err != nil {
			return err
		}
		defer closeStore()

		if len(args) == 0 {
			return css.Dump(ctx, store, cmd.OutOrStdout())
		}
		return writeDumpFile(ctx, store, args[0])
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Write every node of a dump file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		store, closeStore, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		n, err := css.Load(ctx, store, f)
		if err != nil {
			closeStore()
			return err
		}
		if err := closeStore(); err != nil {
			return err
		}
		log.Infof("Loaded %d nodes from %s", n, args[0])
		return nil
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin <command> [args...]",
	Short: `Run an admin command against the store ("admin help" lists them)`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, false)
		if err != nil {
			return err
		}
		defer closeStore()

		out, err := service.NewAdminRegistry(store).Dispatch(ctx, args[0], args[1:])
		if err != nil {
			return err
		}
		if out != "" {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd, migrateCmd, discoverCmd, dumpCmd, loadCmd, adminCmd)
}
