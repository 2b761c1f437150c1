// Package placement decides where things live.
//
// Two placers share the same round-robin discipline:
//
//   - Resolver maps the chunks of one table to workers. An assignment recorded
//     in the metadata store always wins; chunks without a record are handed
//     out round-robin over the configured worker list, in the order they are
//     first asked about, and can be written back with Save so later resolvers
//     agree.
//   - BucketPlacer spreads erasure-coded snapshot shards over object storage
//     buckets: shard 0 to the first bucket, shard 1 to the second, and so on.
//
// Example:
//
//	r, err := placement.NewResolver(workers, domain.TableKey{Database: "LSST", Table: "Object"},
//	    placement.WithStore(store))
//	w, err := r.Worker(ctx, 333) // recorded worker, or the next worker in turn
//	err = r.Save(ctx)            // persist the round-robin decisions
package placement

import (
	"github.com/zzenonn/chunkplace/internal/repository/objectstore"
)

// Placer distributes snapshot shards across storage buckets.
//
// Implementations must be thread-safe and deterministic: the same shardIndex
// returns the same bucket for a fixed registration order.
type Placer interface {
	// GetRepositoryForBucket returns the repository for a specific bucket.
	// Used during restore when the bucket is known from the manifest.
	GetRepositoryForBucket(bucketName string) (objectstore.BlobRepository, error)

	// Place selects the bucket for a shard.
	Place(shardIndex int) (string, objectstore.BlobRepository, error)

	// RegisterBucket adds a storage bucket and repository to the placer.
	RegisterBucket(bucketName string, repo objectstore.BlobRepository) error

	// ListBuckets returns all registered bucket names in registration order.
	ListBuckets() []string
}
