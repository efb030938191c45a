package shard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/internal/taskpool"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/remote"
	"github.com/chronodb/tscore/series"
	"github.com/chronodb/tscore/tserrors"
)

// partitionEntry is a shard's bookkeeping record for one resident
// partition: its Partition object, its dense index id, its flush-group
// assignment and an LRU touch clock for eviction.
type partitionEntry struct {
	partition   *series.Partition
	id          PartitionID
	group       int
	lastQueried atomic.Int64
	labels      map[string]string
}

// Shard owns partitions whose keys fall in its hash range (spec.md §4.3).
type Shard struct {
	ID      uint32
	Dataset *model.Dataset
	schema  *model.Schema
	sink    remote.ChunkSink
	logger  *zap.Logger

	bufferPool *chunk.WriteBufferPool
	blockMgr   *chunk.BlockManager
	index      *InvertedIndex
	ioPool     *taskpool.Pool

	mu         sync.RWMutex
	partitions map[string]*partitionEntry
	nextID     atomic.Uint32

	groupsPerShard   int
	groupHighWater   []atomic.Int64
	groupLastFlushed []atomic.Int64
	flushInterval    time.Duration

	maxPartitions   int
	maxChunks       int
	rawTTLSeconds   int64
}

// Options configures a new Shard.
type Options struct {
	GroupsPerShard int
	FlushInterval  time.Duration
	MaxPartitions  int
	MaxChunks      int
	RawTTLSeconds  int64
	BufferPool     *chunk.WriteBufferPool
	BlockManager   *chunk.BlockManager
	Sink           remote.ChunkSink
	Logger         *zap.Logger
	// IOPool bounds concurrent flush submissions (spec.md §5's I/O pool).
	// Nil defaults to an unbounded pool, matching how a nil Logger defaults
	// to a no-op one.
	IOPool *taskpool.Pool
}

// New builds an empty Shard.
func New(id uint32, dataset *model.Dataset, opts Options) *Shard {
	if opts.GroupsPerShard <= 0 {
		opts.GroupsPerShard = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IOPool == nil {
		opts.IOPool = taskpool.New(0)
	}
	s := &Shard{
		ID:               id,
		Dataset:          dataset,
		schema:           dataset.Schema,
		sink:             opts.Sink,
		logger:           opts.Logger.With(zap.Uint32("shard", id), zap.String("dataset", dataset.Name)),
		bufferPool:       opts.BufferPool,
		blockMgr:         opts.BlockManager,
		index:            NewInvertedIndex(),
		ioPool:           opts.IOPool,
		partitions:       make(map[string]*partitionEntry),
		groupsPerShard:   opts.GroupsPerShard,
		groupHighWater:   make([]atomic.Int64, opts.GroupsPerShard),
		groupLastFlushed: make([]atomic.Int64, opts.GroupsPerShard),
		flushInterval:    opts.FlushInterval,
		maxPartitions:    opts.MaxPartitions,
		maxChunks:        opts.MaxChunks,
		rawTTLSeconds:    opts.RawTTLSeconds,
	}
	return s
}

func (s *Shard) groupFor(key model.PartitionKey) int {
	return int(key.ShardHash() % uint64(s.groupsPerShard))
}

// getOrCreatePartition looks up a partition by key, creating and indexing
// it on first sight (spec.md §4.3 step 2: "creation also updates the
// inverted index").
func (s *Shard) getOrCreatePartition(key model.PartitionKey, labels map[string]string) *partitionEntry {
	s.mu.RLock()
	e, ok := s.partitions[string(key)]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.partitions[string(key)]; ok {
		return e
	}

	id := PartitionID(s.nextID.Add(1))
	p := series.NewPartition(key, s.schema.ID, s.schema, s.bufferPool, s.blockMgr, nil)
	e = &partitionEntry{partition: p, id: id, group: s.groupFor(key), labels: labels}
	s.partitions[string(key)] = e

	for name, value := range labels {
		s.index.Add(id, name, value)
	}

	return e
}

// Ingest decodes one row for the series identified by key, routing it to
// its partition (spec.md §4.3 ingest protocol steps 1-3).
func (s *Shard) Ingest(key model.PartitionKey, labels map[string]string, row series.Row) error {
	e := s.getOrCreatePartition(key, labels)
	if err := e.partition.Ingest(row); err != nil {
		return err
	}
	hw := s.groupHighWater[e.group].Load()
	if row.Timestamp > hw {
		s.groupHighWater[e.group].CompareAndSwap(hw, row.Timestamp)
	}
	return nil
}

// CommitIndex publishes index entries added since the last commit
// (spec.md §4.3).
func (s *Shard) CommitIndex() { s.index.Commit() }

// IndexSnapshot returns a point-in-time view of the inverted index.
func (s *Shard) IndexSnapshot() *IndexSnapshot { return s.index.Snapshot() }

// PartitionMatch pairs a resident Partition with the labels it was
// indexed under, for callers (the query engine) that need to build a
// result series' identity from more than just its row data.
type PartitionMatch struct {
	Partition *series.Partition
	Labels    map[string]string
}

// PartitionsMatching resolves a label-filter selector to its resident
// Partition objects, touching their LRU clock (spec.md §4.3 eviction is
// "least-recently-queried").
func (s *Shard) PartitionsMatching(filters []LabelFilter) ([]*series.Partition, error) {
	matches, err := s.PartitionsWithLabelsMatching(filters)
	if err != nil {
		return nil, err
	}
	out := make([]*series.Partition, len(matches))
	for i, m := range matches {
		out[i] = m.Partition
	}
	return out, nil
}

// PartitionsWithLabelsMatching is PartitionsMatching plus each result's
// indexed labels, needed by the query engine to build a RangeVectorKey
// without re-reading the index.
func (s *Shard) PartitionsWithLabelsMatching(filters []LabelFilter) ([]PartitionMatch, error) {
	snap := s.IndexSnapshot()
	ids, err := snap.MatchAll(filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UnixNano()
	var out []PartitionMatch
	it := ids.Iterator()
	for it.HasNext() {
		id := PartitionID(it.Next())
		for _, e := range s.partitions {
			if e.id == id {
				e.lastQueried.Store(now)
				out = append(out, PartitionMatch{Partition: e.partition, Labels: e.labels})
				break
			}
		}
	}
	return out, nil
}

// FlushGroupIfDue flushes a flush group if its interval has elapsed,
// returning the number of partitions flushed (spec.md §4.3 step 4).
func (s *Shard) FlushGroupIfDue(ctx context.Context, group int, now time.Time) (int, error) {
	last := s.groupLastFlushed[group].Load()
	if now.UnixMilli()-last < s.flushInterval.Milliseconds() {
		return 0, nil
	}
	return s.FlushGroup(ctx, group)
}

// FlushGroup atomically snapshots a flush group's dirty partitions and
// submits them for persistence (spec.md §4.3 step 4, §3 "Flush atomicity").
func (s *Shard) FlushGroup(ctx context.Context, group int) (int, error) {
	s.mu.RLock()
	var dirty []*partitionEntry
	for _, e := range s.partitions {
		if e.group == group {
			dirty = append(dirty, e)
		}
	}
	s.mu.RUnlock()

	if len(dirty) == 0 {
		s.groupLastFlushed[group].Store(time.Now().UnixMilli())
		return 0, nil
	}

	if s.sink == nil {
		return 0, fmt.Errorf("shard %d: flush group %d: %w", s.ID, group, tserrors.ErrRemoteWriteRejected)
	}

	reqCh := make(chan remote.WriteRequest)
	var sealedSets []*sealedFor
	var mErr error
	// The producer runs through s.ioPool rather than a bare goroutine, so a
	// shard with many flush groups due at once can't spin up unbounded
	// concurrent flush submissions (spec.md §5's bounded I/O pool). It still
	// needs its own goroutine since reqCh is unbuffered and drained
	// concurrently by sink.Write below.
	go func() {
		_ = s.ioPool.Go(ctx, func(context.Context) error {
			defer close(reqCh)
			for _, e := range dirty {
				cs, err := e.partition.SwitchBuffers(true)
				if err != nil {
					mErr = multierr.Append(mErr, fmt.Errorf("partition %q: %w", e.partition.Key, err))
					continue
				}
				if cs == nil {
					continue
				}
				sealedSets = append(sealedSets, &sealedFor{entry: e, chunkSet: cs})
				reqCh <- remote.WriteRequest{
					PartitionKey: e.partition.Key,
					Chunk:        toEncodedChunkSet(cs),
				}
			}
			return nil
		})
	}()

	n, err := s.sink.Write(ctx, s.Dataset.Name, reqCh, s.rawTTLSeconds)
	if err != nil {
		mErr = multierr.Append(mErr, fmt.Errorf("%w: %v", tserrors.ErrRemoteWriteRejected, err))
	}

	for _, sf := range sealedSets {
		sf.entry.partition.InvokeFlushListener(err)
	}
	s.groupLastFlushed[group].Store(time.Now().UnixMilli())

	if mErr != nil {
		return n, mErr
	}
	return n, nil
}

type sealedFor struct {
	entry    *partitionEntry
	chunkSet *series.ChunkSet
}

func toEncodedChunkSet(cs *series.ChunkSet) remote.EncodedChunkSet {
	return remote.EncodedChunkSet{
		Info:                cs.Info,
		Timestamps:          cs.TimestampBytes,
		DoubleColumns:       cs.DoubleBytes,
		DoubleDropped:       cs.DoubleDropped,
		DoubleDropPositions: cs.DoubleDropPositions,
		HistogramColumns:    cs.HistogramBytes,
	}
}

// EvictLeastRecentlyQueried drops the chunk lists of the least-recently-
// queried partitions once the shard's partition-count/chunk-count
// thresholds are crossed, until back under the chunk threshold (spec.md
// §4.3: "evict least-recently-queried partitions"; eviction clears a
// partition's chunk list but the partition itself remains in the index as
// a stub). The shard builds its partitions with no PagingRequester, so an
// evicted partition's chunks are not paged back in on a later read.
func (s *Shard) EvictLeastRecentlyQueried() int {
	s.mu.RLock()
	numPartitions := len(s.partitions)
	total := 0
	entries := make([]*partitionEntry, 0, numPartitions)
	for _, e := range s.partitions {
		total += e.partition.NumChunks()
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	overPartitions := s.maxPartitions > 0 && numPartitions > s.maxPartitions
	overChunks := s.maxChunks > 0 && total > s.maxChunks
	if !overPartitions && !overChunks {
		return 0
	}

	sortByLRU(entries)

	evicted := 0
	for _, e := range entries {
		n := e.partition.NumChunks()
		if n == 0 {
			continue
		}
		e.partition.Evict()
		evicted++
		total -= n
		if s.maxChunks <= 0 || total <= s.maxChunks {
			break
		}
	}
	return evicted
}

func sortByLRU(entries []*partitionEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].lastQueried.Load() > entries[j].lastQueried.Load(); j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// NumPartitions returns the number of resident partitions.
func (s *Shard) NumPartitions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions)
}
