package placement

import (
	"fmt"
	"slices"
	"sync"

	"github.com/zzenonn/chunkplace/internal/repository/objectstore"
)

// BucketPlacer hands out snapshot shards over its buckets in registration
// order: shard i goes to bucket i mod n.
type BucketPlacer struct {
	mu     sync.RWMutex
	byName map[string]objectstore.BlobRepository
	order  []string
}

var _ Placer = (*BucketPlacer)(nil)

func NewBucketPlacer() *BucketPlacer {
	return &BucketPlacer{
		byName: make(map[string]objectstore.BlobRepository),
	}
}

// RegisterBucket appends a bucket to the rotation.
func (p *BucketPlacer) RegisterBucket(bucketName string, repo objectstore.BlobRepository) error {
	if bucketName == "" || repo == nil {
		return fmt.Errorf("bucket name and repository are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.byName[bucketName]; dup {
		return fmt.Errorf("bucket %s already registered", bucketName)
	}
	p.byName[bucketName] = repo
	p.order = append(p.order, bucketName)
	return nil
}

// GetRepositoryForBucket looks a bucket up by name, as recorded in a manifest.
func (p *BucketPlacer) GetRepositoryForBucket(bucketName string) (objectstore.BlobRepository, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if repo, ok := p.byName[bucketName]; ok {
		return repo, nil
	}
	return nil, fmt.Errorf("bucket %s is not registered", bucketName)
}

// Place returns the bucket for shard shardIndex.
func (p *BucketPlacer) Place(shardIndex int) (string, objectstore.BlobRepository, error) {
	if shardIndex < 0 {
		return "", nil, fmt.Errorf("negative shard index %d", shardIndex)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.order) == 0 {
		return "", nil, fmt.Errorf("no buckets registered")
	}
	name := p.order[shardIndex%len(p.order)]
	return name, p.byName[name], nil
}

func (p *BucketPlacer) ListBuckets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.order)
}
