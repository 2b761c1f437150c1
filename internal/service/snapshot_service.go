// Package service holds the operations built on top of the metadata store:
// erasure-coded snapshot archival and the admin command table.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/domain"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
	"github.com/zzenonn/chunkplace/internal/placement"
)

const manifestObject = "manifest.json"

// SnapshotService archives dumps of a metadata store as Reed-Solomon shards
// spread round-robin over object storage buckets.
type SnapshotService struct {
	store        css.MetadataStore
	placer       placement.Placer
	dataShards   int
	parityShards int
	// Quiet disables progress bars.
	Quiet bool
	now   func() time.Time
}

// NewSnapshotService creates a new SnapshotService instance
func NewSnapshotService(store css.MetadataStore, placer placement.Placer, dataShards, parityShards int) *SnapshotService {
	return &SnapshotService{
		store:        store,
		placer:       placer,
		dataShards:   dataShards,
		parityShards: parityShards,
		now:          time.Now,
	}
}

// Upload dumps the store, shards the dump and uploads every shard plus a
// copy of the manifest to each bucket. The manifest is also recorded in the
// store under /css_meta/snapshots.
func (s *SnapshotService) Upload(ctx context.Context, name string) (domain.SnapshotManifest, error) {
	if err := css.ValidName(name); err != nil {
		return domain.SnapshotManifest{}, fmt.Errorf("snapshot name: %w", err)
	}

	var dump bytes.Buffer
	if err := css.Dump(ctx, s.store, &dump); err != nil {
		return domain.SnapshotManifest{}, err
	}

	manifest, shards, err := ShardData(dump.Bytes(), s.dataShards, s.parityShards)
	if err != nil {
		return domain.SnapshotManifest{}, err
	}
	manifest.Name = name
	manifest.CreatedAt = s.now().UTC()

	var wg sync.WaitGroup
	errorCh := make(chan error, len(shards))

	for i, shard := range shards {
		bucket, repo, err := s.placer.Place(i)
		if err != nil {
			return domain.SnapshotManifest{}, err
		}
		key := shardKey(name, i)
		manifest.Shards[i].BucketName = bucket
		manifest.Shards[i].StorageType = repo.GetStorageType()
		manifest.Shards[i].Key = key

		wg.Add(1)
		go func(key string, shard []byte) {
			defer wg.Done()
			if _, err := repo.Upload(ctx, key, bytes.NewReader(shard), s.Quiet); err != nil {
				errorCh <- fmt.Errorf("upload %s to %s: %w", key, bucket, err)
			}
		}(key, shard)
	}

	wg.Wait()
	close(errorCh)
	if err := <-errorCh; err != nil {
		s.discard(ctx, name)
		return domain.SnapshotManifest{}, err
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return domain.SnapshotManifest{}, err
	}
	for _, bucket := range s.placer.ListBuckets() {
		repo, err := s.placer.GetRepositoryForBucket(bucket)
		if err != nil {
			return domain.SnapshotManifest{}, err
		}
		if _, err := repo.Upload(ctx, manifestKey(name), bytes.NewReader(body), true); err != nil {
			return domain.SnapshotManifest{}, fmt.Errorf("upload manifest to %s: %w", bucket, err)
		}
	}
	if err := s.store.Write(ctx, css.SnapshotPath(name), string(body)); err != nil {
		return domain.SnapshotManifest{}, err
	}

	log.WithFields(log.Fields{
		"snapshot": name,
		"bytes":    manifest.OriginalSize,
		"shards":   len(shards),
	}).Info("Uploaded store snapshot")
	return manifest, nil
}

// Restore rebuilds snapshot name and loads it into target. The manifest is
// taken from the store when present, otherwise from any bucket holding a
// copy. Up to ParityShards shards may be missing or corrupt.
func (s *SnapshotService) Restore(ctx context.Context, name string, target css.MetadataStore) (int, error) {
	manifest, err := s.Manifest(ctx, name)
	if err != nil {
		return 0, err
	}

	shards := make([][]byte, len(manifest.Shards))
	var wg sync.WaitGroup
	for i, loc := range manifest.Shards {
		wg.Add(1)
		go func(i int, loc domain.ShardLocation) {
			defer wg.Done()
			data, err := s.download(ctx, loc.BucketName, loc.Key)
			if err != nil {
				log.WithError(err).WithField("shard", i).Warn("Shard unavailable, relying on parity")
				return
			}
			shards[i] = data
		}(i, loc)
	}
	wg.Wait()

	data, err := ReconstructData(shards, manifest)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", name, err)
	}
	return css.Load(ctx, target, bytes.NewReader(data))
}

// Manifest returns the manifest of snapshot name.
func (s *SnapshotService) Manifest(ctx context.Context, name string) (domain.SnapshotManifest, error) {
	var manifest domain.SnapshotManifest

	raw, err := s.store.Read(ctx, css.SnapshotPath(name))
	switch {
	case err == nil && raw == "":
		// Deleted.
		return manifest, zerrors.NotFound(css.SnapshotPath(name))
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
			return manifest, zerrors.Malformed(css.SnapshotPath(name), err)
		}
		return manifest, nil
	case !errors.Is(err, zerrors.ErrNotFound):
		return manifest, err
	}

	for _, bucket := range s.placer.ListBuckets() {
		body, err := s.download(ctx, bucket, manifestKey(name))
		if err != nil {
			continue
		}
		if err := json.Unmarshal(body, &manifest); err != nil {
			log.WithError(err).WithField("bucket", bucket).Warn("Ignoring unreadable snapshot manifest")
			continue
		}
		return manifest, nil
	}
	return manifest, zerrors.NotFound(css.SnapshotPath(name))
}

// List returns the names of snapshots recorded in the store.
func (s *SnapshotService) List(ctx context.Context) ([]string, error) {
	names, err := s.store.Children(ctx, css.SnapshotsPath)
	if errors.Is(err, zerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := s.store.Read(ctx, css.SnapshotPath(name))
		if err != nil {
			return nil, err
		}
		if raw != "" {
			live = append(live, name)
		}
	}
	return live, nil
}

// Delete removes the shards and manifest copies of snapshot name and leaves
// a null record in the store. The store has no delete operation.
func (s *SnapshotService) Delete(ctx context.Context, name string) error {
	manifest, err := s.Manifest(ctx, name)
	if err != nil {
		return err
	}

	for _, loc := range manifest.Shards {
		repo, err := s.placer.GetRepositoryForBucket(loc.BucketName)
		if err != nil {
			log.WithError(err).WithField("key", loc.Key).Warn("Cannot reach shard bucket, leaving shard behind")
			continue
		}
		if err := repo.Delete(ctx, loc.Key); err != nil {
			return fmt.Errorf("delete %s from %s: %w", loc.Key, loc.BucketName, err)
		}
	}
	for _, bucket := range s.placer.ListBuckets() {
		repo, err := s.placer.GetRepositoryForBucket(bucket)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, manifestKey(name)); err != nil {
			log.WithError(err).WithField("bucket", bucket).Debug("No manifest copy to delete")
		}
	}
	return s.store.Write(ctx, css.SnapshotPath(name), "")
}

// discard removes whatever a failed upload left in the buckets.
func (s *SnapshotService) discard(ctx context.Context, name string) {
	for _, bucket := range s.placer.ListBuckets() {
		repo, err := s.placer.GetRepositoryForBucket(bucket)
		if err != nil {
			continue
		}
		if err := repo.DeletePrefix(ctx, snapshotPrefix(name)); err != nil {
			log.WithError(err).WithField("bucket", bucket).Warn("Failed to clean up partial snapshot")
		}
	}
}

func (s *SnapshotService) download(ctx context.Context, bucket, key string) ([]byte, error) {
	repo, err := s.placer.GetRepositoryForBucket(bucket)
	if err != nil {
		return nil, err
	}
	reader, err := repo.Download(ctx, key, s.Quiet)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func snapshotPrefix(name string) string {
	return "snapshots/" + name + "/"
}

func shardKey(name string, i int) string {
	return fmt.Sprintf("%sshard_%d", snapshotPrefix(name), i)
}

func manifestKey(name string) string {
	return snapshotPrefix(name) + manifestObject
}
