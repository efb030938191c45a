// Package remote defines the wide-column persistence boundary of spec.md
// §6: ChunkSink/ChunkSource, treated everywhere else in this module as an
// external collaborator ("black box" per spec.md §1). Grounded on the
// dbnode/persist interface split (a pluggable, swappable persistence
// backend boundary) for the shape of the contract, though the concrete
// methods here follow spec.md §6's table directly.
package remote

import (
	"context"

	"github.com/chronodb/tscore/model"
)

// RawPartData is one partition's chunk data as returned by a scan,
// independent of any in-memory residency - exactly what spec.md §6 names
// as the output of readRawPartitions / getChunksByIngestionTimeRange.
type RawPartData struct {
	PartitionKey model.PartitionKey
	Chunks       []EncodedChunkSet
}

// EncodedChunkSet is the wire form of a series.ChunkSet: a model.ChunkInfo
// plus the already-encoded column byte buffers, keyed by column name.
type EncodedChunkSet struct {
	Info          model.ChunkInfo
	Timestamps    []byte
	DoubleColumns map[string][]byte
	// DoubleDropped/DoubleDropPositions mirror the per-column dip-detector
	// state (spec.md §4.1) needed to reconstruct chunk.DoubleReader values
	// without re-scanning the decoded column.
	DoubleDropped       map[string]bool
	DoubleDropPositions map[string][]int
	HistogramColumns    map[string][]byte
}

// PartMethod selects which partitions a scan should return.
type PartMethod struct {
	ShardID       uint32
	PartitionKeys []model.PartitionKey // nil means "all partitions for the shard"
}

// ChunkMethod bounds the time range of chunks a scan should return.
type ChunkMethod struct {
	Start, End int64 // inclusive user time millis
}

// ScanSplit is one disjoint token-range slice of the dataset's key space,
// tagged with the replica hosts that own it (spec.md §6
// "tagged with replica host list for locality").
type ScanSplit struct {
	StartToken, EndToken uint64
	ReplicaHosts         []string
}

// PartKeyRecord is a scanned partition-key entry used for index rebuild
// (spec.md §6 scanPartKeys/writePartKeys). EndTime of 0 (or any sentinel
// the caller defines) combined with NoTTL means "no TTL", per spec.md §6.
type PartKeyRecord struct {
	PartitionKey model.PartitionKey
	SchemaID     string
	StartTime    int64
	EndTime      int64
	NoTTL        bool
}

// ChunkSink is the write side of the remote column store interface
// (spec.md §6).
type ChunkSink interface {
	// Initialize creates the dataset's tables; idempotent.
	Initialize(ctx context.Context, dataset string, numShards int) error
	// Truncate clears all data for the dataset; idempotent.
	Truncate(ctx context.Context, dataset string, numShards int) error
	// Drop removes the dataset's tables entirely; idempotent.
	Drop(ctx context.Context, dataset string, numShards int) error
	// Write persists a stream of chunk sets under ttlSeconds, returning the
	// count actually written. Each chunk set's data row AND its
	// (partition, ingestionTime, startTime) index row must both succeed
	// for it to count (spec.md §6 atomicity guarantee).
	Write(ctx context.Context, dataset string, chunkSets <-chan WriteRequest, ttlSeconds int64) (int, error)
	// WritePartKeys persists partition-key index entries.
	WritePartKeys(ctx context.Context, dataset string, shard uint32, records <-chan PartKeyRecord, ttl int64) error
}

// WriteRequest pairs a partition key with the encoded chunk set being
// flushed for it.
type WriteRequest struct {
	PartitionKey model.PartitionKey
	Chunk        EncodedChunkSet
}

// ChunkSource is the read side of the remote column store interface
// (spec.md §6).
type ChunkSource interface {
	// ReadRawPartitions streams chunks within
	// [chunkMethod.Start-maxChunkTime, chunkMethod.End].
	ReadRawPartitions(ctx context.Context, dataset string, maxChunkTimeMillis int64, part PartMethod, chunkMethod ChunkMethod) (<-chan RawPartData, error)
	// GetChunksByIngestionTimeRange streams batched raw partitions for
	// downsampling/repair. End times are exclusive.
	GetChunksByIngestionTimeRange(ctx context.Context, dataset string, splits []ScanSplit, ingStart, ingEnd, userStart, userEnd, maxChunkTimeMillis int64, batchSize int, batchTime int64) (<-chan []RawPartData, error)
	// GetScanSplits returns disjoint token-range splits covering the key
	// space, tagged with replica host lists for locality.
	GetScanSplits(ctx context.Context, dataset string, splitsPerNode int) ([]ScanSplit, error)
	// ScanPartKeys streams partition-key records for index rebuild.
	ScanPartKeys(ctx context.Context, dataset string, shard uint32) (<-chan PartKeyRecord, error)
}
