// Package memstore implements spec.md §4.4: the top-level directory of
// (dataset -> shard -> partition), routing ingest, scheduling flushes and
// serving scan to the query engine. Grounded on dbnode/storage's top-level
// db type's namespace/shard ownership pattern, generalized one level
// (dataset replaces namespace).
package memstore

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/config"
	"github.com/chronodb/tscore/internal/taskpool"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/remote"
	"github.com/chronodb/tscore/series"
	"github.com/chronodb/tscore/shard"
	"github.com/chronodb/tscore/tserrors"
)

// MemStore is the dataset-keyed directory of shards.
type MemStore struct {
	settings config.Settings
	sink     remote.ChunkSink
	logger   *zap.Logger
	pools    taskpool.Pools

	mu       sync.RWMutex
	datasets map[string]*datasetEntry
}

type datasetEntry struct {
	dataset *model.Dataset
	shards  map[uint32]*shard.Shard
	pool    *chunk.WriteBufferPool
	blocks  *chunk.BlockManager
}

// New builds an empty MemStore, constructing the spec.md §5 I/O and
// compute pools from settings once and threading the I/O pool down into
// every shard it creates. The compute pool is exposed via ComputePool for
// callers (the query engine, downsample.Pipeline) that bound their own
// work against the same budget.
func New(settings config.Settings, sink remote.ChunkSink, logger *zap.Logger) *MemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemStore{
		settings: settings,
		sink:     sink,
		logger:   logger,
		pools:    taskpool.NewPools(settings.IOPoolSize, settings.ComputePoolSize),
		datasets: make(map[string]*datasetEntry),
	}
}

// ComputePool returns the bounded compute pool built from
// config.Settings.ComputePoolSize, shared by query and downsample work
// against this MemStore (spec.md §5).
func (m *MemStore) ComputePool() *taskpool.Pool { return m.pools.Compute }

// Setup registers a dataset and pre-creates its shards; idempotent
// (spec.md §4.4).
func (m *MemStore) Setup(dataset *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.datasets[dataset.Name]; ok {
		if existing.dataset.NumShards != dataset.NumShards {
			return fmt.Errorf("memstore: dataset %q already set up with %d shards, got %d", dataset.Name, existing.dataset.NumShards, dataset.NumShards)
		}
		return nil
	}

	de := &datasetEntry{
		dataset: dataset,
		shards:  make(map[uint32]*shard.Shard),
		pool:    chunk.NewWriteBufferPool(dataset.NumShards*4, m.settings.MaxChunkSize),
		blocks:  chunk.NewBlockManager(m.settings.OffHeapBlockMemorySize),
	}
	for i := 0; i < dataset.NumShards; i++ {
		de.shards[uint32(i)] = shard.New(uint32(i), dataset, shard.Options{
			GroupsPerShard: m.settings.GroupsPerShard,
			FlushInterval:  m.settings.FlushInterval,
			MaxPartitions:  m.settings.MaxNumPartitions,
			MaxChunks:      m.settings.ChunksToKeep * m.settings.MaxNumPartitions,
			RawTTLSeconds:  int64(m.settings.DiskTimeToLive.Seconds()),
			BufferPool:     de.pool,
			BlockManager:   de.blocks,
			Sink:           m.sink,
			Logger:         m.logger,
			IOPool:         m.pools.IO,
		})
	}
	m.datasets[dataset.Name] = de
	return nil
}

func (m *MemStore) lookup(dataset string) (*datasetEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	de, ok := m.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %q", tserrors.ErrUnknownDataset, dataset)
	}
	return de, nil
}

// Shard returns the shard for a (dataset, shardID) pair.
func (m *MemStore) Shard(dataset string, shardID uint32) (*shard.Shard, error) {
	de, err := m.lookup(dataset)
	if err != nil {
		return nil, err
	}
	sh, ok := de.shards[shardID]
	if !ok {
		return nil, fmt.Errorf("memstore: dataset %q has no shard %d", dataset, shardID)
	}
	return sh, nil
}

// Shards returns every shard of dataset, ordered by shard id, for
// callers (the query planner) that must fan a query out across all of
// them.
func (m *MemStore) Shards(dataset string) ([]*shard.Shard, error) {
	de, err := m.lookup(dataset)
	if err != nil {
		return nil, err
	}
	out := make([]*shard.Shard, len(de.shards))
	for id, sh := range de.shards {
		out[id] = sh
	}
	return out, nil
}

// IngestRecord is one decoded sample routed to a specific shard.
type IngestRecord struct {
	ShardID uint32
	Key     model.PartitionKey
	Labels  map[string]string
	Row     series.Row
}

// IngestHandle is the cancellable handle returned by IngestStream.
type IngestHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops consuming the stream. Safe to call multiple times.
func (h *IngestHandle) Cancel() { h.cancel() }

// Wait blocks until the stream has been fully consumed or cancelled.
func (h *IngestHandle) Wait() { <-h.done }

// IngestStream consumes records from stream and routes each to its shard,
// invoking errorCb for any row-level error without stopping the stream
// (spec.md §4.4, §7 "non-fatal ingest errors are counted, not thrown").
func (m *MemStore) IngestStream(ctx context.Context, dataset string, stream <-chan IngestRecord, errorCb func(IngestRecord, error)) (*IngestHandle, error) {
	de, err := m.lookup(dataset)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &IngestHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-stream:
				if !ok {
					return
				}
				sh, ok := de.shards[rec.ShardID]
				if !ok {
					if errorCb != nil {
						errorCb(rec, fmt.Errorf("memstore: dataset %q has no shard %d", dataset, rec.ShardID))
					}
					continue
				}
				if err := sh.Ingest(rec.Key, rec.Labels, rec.Row); err != nil {
					if errorCb != nil {
						errorCb(rec, err)
					}
				}
			}
		}
	}()

	return h, nil
}

// PartMethod selects which partitions within a shard Scan should return.
type PartMethod = shard.LabelFilter

// ScanRequest describes one Scan call.
type ScanRequest struct {
	Dataset string
	ShardID uint32
	Filters []shard.LabelFilter
	Start   int64
	End     int64
}

// ScanResult is one matching partition's chunk sets for the requested
// range (spec.md §4.4 `scan` returns a stream of RawPartData).
type ScanResult struct {
	Key    model.PartitionKey
	Chunks []*series.ChunkSet
}

// Scan serves range queries from resident partitions (spec.md §4.4). The
// shards give their partitions no PagingRequester, so evicted chunks are
// not paged back in.
func (m *MemStore) Scan(req ScanRequest) ([]ScanResult, error) {
	sh, err := m.Shard(req.Dataset, req.ShardID)
	if err != nil {
		return nil, err
	}

	parts, err := sh.PartitionsMatching(req.Filters)
	if err != nil {
		return nil, err
	}

	out := make([]ScanResult, 0, len(parts))
	for _, p := range parts {
		chunks, err := p.Reader(req.Start, req.End)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", tserrors.ErrRemoteReadError, err)
		}
		out = append(out, ScanResult{Key: p.Key, Chunks: chunks})
	}
	return out, nil
}
