package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/chunkplace/internal/config"
	"github.com/zzenonn/chunkplace/internal/css"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
	"github.com/zzenonn/chunkplace/internal/placement"
	"github.com/zzenonn/chunkplace/internal/repository/objectstore"
	"github.com/zzenonn/chunkplace/internal/service"
)

var quiet bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Archive and restore erasure-coded store dumps in object storage",
}

var snapshotUploadCmd = &cobra.Command{
	Use:   "upload <name>",
	Short: "Dump the store and upload it as Reed-Solomon shards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		svc, err := newSnapshotService(ctx, store)
		if err != nil {
			closeStore()
			return err
		}
		manifest, err := svc.Upload(ctx, args[0])
		if err != nil {
			closeStore()
			return err
		}
		if err := closeStore(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s uploaded: %d bytes in %d+%d shards\n",
			manifest.Name, manifest.OriginalSize, manifest.DataShards, manifest.ParityShards)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Rebuild a snapshot and load it into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		svc, err := newSnapshotService(ctx, store)
		if err != nil {
			closeStore()
			return err
		}
		n, err := svc.Restore(ctx, args[0], store)
		if err != nil {
			closeStore()
			return err
		}
		if err := closeStore(); err != nil {
			return err
		}
		log.Infof("Restored %d nodes from snapshot %s", n, args[0])
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots recorded in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, false)
		if err != nil {
			return err
		}
		defer closeStore()

		names, err := service.NewSnapshotService(store, placement.NewBucketPlacer(), 1, 0).List(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a snapshot's shards from object storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		svc, err := newSnapshotService(ctx, store)
		if err != nil {
			closeStore()
			return err
		}
		if err := svc.Delete(ctx, args[0]); err != nil {
			closeStore()
			return err
		}
		if err := closeStore(); err != nil {
			return err
		}
		log.Infof("Deleted snapshot %s", args[0])
		return nil
	},
}

func newSnapshotService(ctx context.Context, store css.MetadataStore) (*service.SnapshotService, error) {
	if len(cfg.Snapshot.Buckets) == 0 {
		return nil, zerrors.ConfigNotSetError("snapshot.buckets")
	}

	factory := objectstore.NewRepositoryFactory(config.LoadAWSConfig, config.LoadGCSClient)
	placer := placement.NewBucketPlacer()
	for _, spec := range cfg.Snapshot.Buckets {
		bucketCfg, err := objectstore.ParseBucketConfig(spec)
		if err != nil {
			return nil, err
		}
		repo, err := factory.CreateRepository(ctx, bucketCfg)
		if err != nil {
			return nil, err
		}
		if err := placer.RegisterBucket(bucketCfg.Name, repo); err != nil {
			return nil, err
		}
	}

	svc := service.NewSnapshotService(store, placer, cfg.Snapshot.DataShards, cfg.Snapshot.ParityShards)
	svc.Quiet = quiet
	return svc, nil
}

func init() {
	snapshotCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	snapshotCmd.PersistentFlags().StringSlice("buckets", nil, `snapshot buckets ("s3://name", "gs://name")`)
	snapshotCmd.PersistentFlags().Int("data-shards", 4, "Number of data shards for erasure coding")
	snapshotCmd.PersistentFlags().Int("parity-shards", 2, "Number of parity shards for erasure coding")
	snapshotCmd.AddCommand(snapshotUploadCmd, snapshotRestoreCmd, snapshotListCmd, snapshotDeleteCmd)
	rootCmd.AddCommand(snapshotCmd)
}
