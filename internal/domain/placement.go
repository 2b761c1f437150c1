// Package domain holds the value types shared by the resolver, the metadata
// store clients and the snapshot service.
package domain

import (
	"fmt"
	"strconv"
)

// WorkerID identifies a cluster node able to host a chunk.
type WorkerID string

// ChunkID identifies one partition of a chunked table.
type ChunkID int64

func (c ChunkID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// ParseChunkID parses a decimal, non-negative chunk id.
func ParseChunkID(s string) (ChunkID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chunk id %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("chunk id %d is negative", n)
	}
	return ChunkID(n), nil
}

// TableKey names the table whose placement a resolver governs.
type TableKey struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

func (k TableKey) String() string {
	return k.Database + "." + k.Table
}

// Provenance records where an assignment came from.
type Provenance int

const (
	// FromStore assignments were read from an existing replica record.
	FromStore Provenance = iota
	// Fallback assignments were made by round-robin over the worker list.
	Fallback
)

func (p Provenance) String() string {
	switch p {
	case FromStore:
		return "store"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Assignment is one resolved chunk.
type Assignment struct {
	Chunk      ChunkID    `json:"chunk"`
	Worker     WorkerID   `json:"worker"`
	Provenance Provenance `json:"provenance"`
	// Persisted is set once a fallback assignment has been written back.
	Persisted bool `json:"persisted"`
}

// ReplicaRecord is the JSON value stored at a chunk replica path.
type ReplicaRecord struct {
	NodeName string `json:"nodeName"`
}
