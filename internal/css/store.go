// Package css defines the contract of the central state store (CSS), the
// hierarchical key-value system of record shared by every component that
// needs cluster, schema or placement metadata.
//
// Paths are slash separated and absolute ("/DBS/LSST/TABLES/Object"). Every
// node may carry a value; a node without a value is stored as null and read
// back as the empty string. Writing a node creates any missing parents as
// null nodes, so a store never holds an orphan.
//
// Implementations:
//   - MemoryStore: in-process, used by tests and by the CLI with dump files
//   - repository/db.DynamoStore: Amazon DynamoDB
//   - repository/paramstore.Store: AWS Systems Manager Parameter Store
//   - repository/natskv.Store: NATS JetStream key-value buckets
//
// All implementations report a missing node with an error matching
// errors.ErrNotFound and any transport or server failure with an error
// matching errors.ErrStoreUnavailable, so callers can tell "asked and got
// nothing" from "could not ask".
package css

import "context"

// MetadataStore is the hierarchical key-value store consumed by the resolver.
//
// Implementations must be safe for concurrent use.
type MetadataStore interface {
	// Exists reports whether a node exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Read returns the value stored at path, or "" for a null node.
	Read(ctx context.Context, path string) (string, error)

	// Children returns the sorted names (single segments) of the nodes
	// directly below path.
	Children(ctx context.Context, path string) ([]string, error)

	// Write stores value at path, creating missing parents.
	Write(ctx context.Context, path, value string) error
}
