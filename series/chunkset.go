// Package series implements spec.md §4.2: the per-time-series Partition,
// its mutable write buffers, and its immutable, time-ordered ChunkSet
// list. Grounded on dbnode/storage/series/buffer.go's dbBuffer
// seal/rotate/drain protocol.
package series

import (
	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/model"
)

// ChunkSet is a bundle of same-length column chunks sharing one
// model.ChunkInfo (spec.md §3). Ownership: created by a partition's flush,
// reference-counted via the backing chunk.Block while any reader holds it.
type ChunkSet struct {
	Info       model.ChunkInfo
	Timestamps *chunk.TimestampReader
	Doubles    map[string]*chunk.DoubleReader
	Histograms map[string]*chunk.HistogramReader
	block      *chunk.Block // nil for an as-built-in-memory (not yet block-resident) ChunkSet

	// Raw encoded column buffers, retained alongside the decoded readers so
	// the shard's flush path can hand them to a remote.ChunkSink without
	// re-encoding (spec.md §6 write() takes a stream of chunk sets).
	TimestampBytes      []byte
	DoubleBytes         map[string][]byte
	DoubleDropped       map[string]bool
	DoubleDropPositions map[string][]int
	HistogramBytes      map[string][]byte
}

// Retain pins the ChunkSet's backing block in memory for the duration of a
// read. Safe to call on a ChunkSet with no backing block (e.g. one still
// awaiting encode+block-copy), a no-op in that case.
func (cs *ChunkSet) Retain() {
	if cs.block != nil {
		cs.block.Retain()
	}
}

// Release unpins the ChunkSet's backing block, balancing a prior Retain.
func (cs *ChunkSet) Release() {
	if cs.block != nil {
		cs.block.Release()
	}
}

// NumRows returns the row count of this chunk set.
func (cs *ChunkSet) NumRows() int { return cs.Info.NumRows }
