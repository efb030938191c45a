package chunk

import (
	"sync"

	"go.uber.org/atomic"
)

// Block is a contiguous off-heap-style memory region owned by a shard's
// BlockManager. Sealed chunks are copied into blocks; a block is
// reference-counted by every reader holding a chunk that lives inside it
// and is reclaimable only when that count drops to zero (spec.md §5
// "Shared-resource policy"). Go has no raw off-heap allocation in the
// teacher's JVM sense, so this models the same ownership discipline with a
// plain byte slice behind a handle - readers carry the handle, never the
// slice itself, so the manager can still swap or release the backing
// memory once refcount reaches zero (spec.md §9 "pointer-to-off-heap
// pattern").
type Block struct {
	id    uint64
	data  []byte
	refs  atomic.Int32
	freed atomic.Bool
}

// Retain increments the reader refcount. Must be balanced with Release.
func (b *Block) Retain() { b.refs.Inc() }

// Release decrements the reader refcount. It reclaims nothing itself: a
// block reaching zero stays tracked by its BlockManager until Evict is
// called on it.
func (b *Block) Release() { b.refs.Dec() }

// RefCount reports the current number of active readers.
func (b *Block) RefCount() int32 { return b.refs.Load() }

// Bytes returns the block's backing slice. Valid only while the caller
// holds a Retain.
func (b *Block) Bytes() []byte { return b.data }

// BlockManager is a shard-scoped, bounded allocator of Blocks. It does not
// itself decide when chunks are no longer needed (the shard's eviction
// policy does); it only tracks capacity and reclaims a block when Evict is
// called on it while its refcount is zero.
type BlockManager struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	nextID   uint64
	blocks   map[uint64]*Block
}

// NewBlockManager returns a manager bounded by capacity bytes.
func NewBlockManager(capacity int64) *BlockManager {
	return &BlockManager{capacity: capacity, blocks: make(map[uint64]*Block)}
}

// Allocate copies data into a new block owned by the manager, returning
// false if doing so would exceed capacity (the caller should apply flush
// pressure / eviction in that case, per spec.md §4.1).
func (m *BlockManager) Allocate(data []byte) (*Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+int64(len(data)) > m.capacity {
		return nil, false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.nextID++
	b := &Block{id: m.nextID, data: cp}
	m.blocks[b.id] = b
	m.used += int64(len(data))
	return b, true
}

// Evict reclaims a block. If its refcount is zero the backing array is
// released immediately; otherwise Evict does nothing and the block stays
// tracked (spec.md §5: "a block is reclaimable only when refcount = 0").
// Release does not reclaim it later; only a further Evict call does.
func (m *BlockManager) Evict(b *Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.refs.Load() > 0 {
		// Still read: the block stays tracked and counted in Used() until
		// Evict is called again after its readers have released it.
		return
	}
	if b.freed.CompareAndSwap(false, true) {
		m.used -= int64(len(b.data))
		delete(m.blocks, b.id)
		b.data = nil
	}
}

// Used returns the manager's current byte usage.
func (m *BlockManager) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Capacity returns the manager's byte capacity.
func (m *BlockManager) Capacity() int64 { return m.capacity }
