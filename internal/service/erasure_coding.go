package service

import (
	"bytes"
	"fmt"
	"hash/crc64"

	"github.com/klauspost/reedsolomon"

	"github.com/zzenonn/chunkplace/internal/domain"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// ShardData splits data into data+parity Reed-Solomon shards and returns a
// manifest carrying the CRC64 of every shard. Locations are left blank for
// the caller to fill in.
func ShardData(data []byte, dataShards, parityShards int) (domain.SnapshotManifest, [][]byte, error) {
	if len(data) == 0 {
		return domain.SnapshotManifest{}, nil, zerrors.ErrEmptySnapshot
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return domain.SnapshotManifest{}, nil, err
	}

	shards, err := enc.Split(data)
	if err != nil {
		return domain.SnapshotManifest{}, nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return domain.SnapshotManifest{}, nil, err
	}

	locations := make([]domain.ShardLocation, len(shards))
	for i, shard := range shards {
		locations[i].Hash = shardHash(shard)
	}

	return domain.SnapshotManifest{
		OriginalSize: int64(len(data)),
		ShardSize:    int64(len(shards[0])),
		DataShards:   dataShards,
		ParityShards: parityShards,
		Shards:       locations,
	}, shards, nil
}

// ReconstructData rebuilds the original bytes. Missing shards are nil;
// shards whose hash does not match the manifest are discarded first.
func ReconstructData(shards [][]byte, meta domain.SnapshotManifest) ([]byte, error) {
	total := meta.DataShards + meta.ParityShards
	if len(meta.Shards) != total {
		return nil, fmt.Errorf("manifest lists %d shards, want %d", len(meta.Shards), total)
	}

	enc, err := reedsolomon.New(meta.DataShards, meta.ParityShards)
	if err != nil {
		return nil, err
	}

	work := make([][]byte, total)
	present := 0
	for i := 0; i < total && i < len(shards); i++ {
		if shards[i] == nil || shardHash(shards[i]) != meta.Shards[i].Hash {
			continue
		}
		work[i] = shards[i]
		present++
	}
	if present < meta.DataShards {
		return nil, fmt.Errorf("%w: have %d of %d", zerrors.ErrInsufficientShards, present, meta.DataShards)
	}

	if err := enc.ReconstructData(work); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := enc.Join(&buf, work, int(meta.OriginalSize)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shardHash(shard []byte) string {
	return fmt.Sprintf("%016x", crc64.Checksum(shard, crcTable))
}
