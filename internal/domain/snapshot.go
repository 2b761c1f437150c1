package domain

import "time"

// ShardLocation records where one erasure-coded shard of a snapshot lives.
type ShardLocation struct {
	Hash        string `json:"hash"`
	StorageType string `json:"storage_type"`
	BucketName  string `json:"bucket_name"`
	Key         string `json:"key"`
}

// SnapshotManifest describes an archived dump of the metadata store.
type SnapshotManifest struct {
	Name         string          `json:"name"`
	CreatedAt    time.Time       `json:"created_at"`
	OriginalSize int64           `json:"original_size"`
	ShardSize    int64           `json:"shard_size"`
	DataShards   int             `json:"data_shards"`
	ParityShards int             `json:"parity_shards"`
	Shards       []ShardLocation `json:"shards"`
}
