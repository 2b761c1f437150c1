package css

import (
	"context"
	"errors"
	"fmt"

	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// Initialize writes the schema marker. It refuses to overwrite a marker
// carrying a different version.
func Initialize(ctx context.Context, store MetadataStore) error {
	current, err := store.Read(ctx, VersionPath)
	switch {
	case err == nil && current == SchemaVersion:
		return nil
	case err == nil:
		return fmt.Errorf("%w: store already initialized with version %q", zerrors.ErrConfiguration, current)
	case !errors.Is(err, zerrors.ErrNotFound):
		return err
	}
	if err := store.Write(ctx, DatabasesPath, ""); err != nil {
		return err
	}
	return store.Write(ctx, VersionPath, SchemaVersion)
}

// CheckVersion verifies the schema marker. A missing or unknown marker is a
// configuration error; transport failures are returned unchanged.
func CheckVersion(ctx context.Context, store MetadataStore) error {
	v, err := store.Read(ctx, VersionPath)
	if err != nil {
		if errors.Is(err, zerrors.ErrNotFound) {
			return fmt.Errorf("%w: %s is missing, store is not initialized", zerrors.ErrConfiguration, VersionPath)
		}
		return err
	}
	if v != SchemaVersion {
		return fmt.Errorf("%w: unsupported store version %q (want %q)", zerrors.ErrConfiguration, v, SchemaVersion)
	}
	return nil
}

// FindChunkedTable returns the first table of db, in sorted order, that has
// a chunk map. Co-partitioned tables share that map.
func FindChunkedTable(ctx context.Context, store MetadataStore, db string) (string, error) {
	tables, err := store.Children(ctx, TablesPath(db))
	if err != nil {
		return "", err
	}
	for _, t := range tables {
		ok, err := store.Exists(ctx, ChunksPath(db, t))
		if err != nil {
			return "", err
		}
		if ok {
			return t, nil
		}
	}
	return "", zerrors.NotFound(TablesPath(db) + "/*/" + chunksDir)
}
