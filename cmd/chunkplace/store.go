package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/chunkplace/internal/config"
	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/repository/db"
	"github.com/zzenonn/chunkplace/internal/repository/natskv"
	"github.com/zzenonn/chunkplace/internal/repository/paramstore"
)

// openStore connects to the configured backend. The returned close function
// must be called; for the memory backend with writable set it writes the
// store back to the dump file.
func openStore(ctx context.Context, writable bool) (css.MetadataStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Backend {
	case config.BackendMemory:
		return openMemoryStore(ctx, writable)

	case config.BackendDynamoDB:
		awsCfg, err := config.LoadAWSConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		database, err := db.NewDatabase(awsCfg, cfg.Store.DynamoDBTable)
		if err != nil {
			return nil, nil, err
		}
		return database.Store(), noop, nil

	case config.BackendSSM:
		awsCfg, err := config.LoadAWSConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		store, err := paramstore.NewFromConfig(awsCfg, cfg.Store.SSMPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case config.BackendNATS:
		nc, err := nats.Connect(cfg.Store.NATSURL, nats.Name("chunkplace"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Store.NATSURL, err)
		}
		store, err := natskv.Open(ctx, nc, cfg.Store.NATSBucket)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, func() error { return nc.Drain() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
}

func openMemoryStore(ctx context.Context, writable bool) (css.MetadataStore, func() error, error) {
	store := css.NewMemoryStore()
	path := cfg.Store.DumpFile
	if path == "" {
		log.Warn("Memory store without --dump-file: nothing will be kept")
		return store, func() error { return nil }, nil
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		n, err := css.Load(ctx, store, f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", path, err)
		}
		log.Debugf("Loaded %d nodes from %s", n, path)
	case !errors.Is(err, os.ErrNotExist):
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	if writable {
		closeFn = func() error { return persistDump(ctx, store, path) }
	}
	return store, closeFn, nil
}

// persistDump is swapped out in tests.
var persistDump = writeDumpFile

// writeDumpFile replaces path atomically with a dump of store.
func writeDumpFile(ctx context.Context, store css.MetadataStore, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunkplace-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := css.Dump(ctx, store, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
