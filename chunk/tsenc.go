package chunk

import "sort"

// TimestampEncoder append-only encodes a column of strictly increasing
// epoch-millisecond timestamps as delta-of-delta values grouped into
// run-length segments, per spec.md §4.1. A run of identical consecutive
// deltas (the overwhelmingly common case for scrape-interval-spaced
// samples) costs one zigzag-varint delta plus one run-length varint
// regardless of run length.
type TimestampEncoder struct {
	w *bitWriter

	count     int
	lastTS    int64
	runDelta  int64
	runLength uint64
	haveRun   bool
}

// NewTimestampEncoder returns an empty encoder.
func NewTimestampEncoder() *TimestampEncoder {
	return &TimestampEncoder{w: newBitWriter()}
}

// Append adds the next timestamp. The caller (Partition.ingest) is
// responsible for enforcing the strictly-increasing invariant; Append does
// not re-validate it.
func (e *TimestampEncoder) Append(ts int64) {
	switch e.count {
	case 0:
		e.w.writeVarint(ts)
	default:
		delta := ts - e.lastTS
		if e.haveRun && delta == e.runDelta {
			e.runLength++
		} else {
			e.flushRun()
			e.runDelta = delta
			e.runLength = 1
			e.haveRun = true
		}
	}
	e.lastTS = ts
	e.count++
}

func (e *TimestampEncoder) flushRun() {
	if !e.haveRun {
		return
	}
	e.w.writeVarint(e.runDelta)
	e.w.writeUvarint(e.runLength)
	e.haveRun = false
}

// Seal finalizes the encoder and returns the encoded bytes plus the number
// of rows appended. The encoder must not be used after Seal.
func (e *TimestampEncoder) Seal() ([]byte, int) {
	e.flushRun()
	return e.w.bytes(), e.count
}

// TimestampReader decodes a sealed TimestampEncoder buffer.
type TimestampReader struct {
	values []int64
}

// NewTimestampReader decodes buf (produced by TimestampEncoder.Seal) into a
// random-access column of n timestamps.
func NewTimestampReader(buf []byte, n int) *TimestampReader {
	values := make([]int64, 0, n)
	if n == 0 {
		return &TimestampReader{values: values}
	}
	r := newBitReader(buf)
	first, ok := r.readVarint()
	if !ok {
		return &TimestampReader{values: values}
	}
	values = append(values, first)
	last := first
	for len(values) < n {
		delta, ok := r.readVarint()
		if !ok {
			break
		}
		runLen, ok := r.readUvarint()
		if !ok {
			break
		}
		for i := uint64(0); i < runLen && len(values) < n; i++ {
			last += delta
			values = append(values, last)
		}
	}
	return &TimestampReader{values: values}
}

// Len returns the number of decoded rows.
func (r *TimestampReader) Len() int { return len(r.values) }

// At returns the timestamp at rowNum (random access, spec.md §4.1 `apply`).
func (r *TimestampReader) At(rowNum int) int64 { return r.values[rowNum] }

// All returns the full decoded slice; callers must not mutate it.
func (r *TimestampReader) All() []int64 { return r.values }

// Iterate returns the timestamps starting at startRow, in order.
func (r *TimestampReader) Iterate(startRow int) []int64 {
	if startRow >= len(r.values) {
		return nil
	}
	return r.values[startRow:]
}

// CeilingIndex returns the index of the first timestamp >= ts, or
// len(values) if none exists (spec.md §4.1 `ceilingIndex`). O(log n) via
// binary search since the column is strictly increasing.
func (r *TimestampReader) CeilingIndex(ts int64) int {
	return sort.Search(len(r.values), func(i int) bool {
		return r.values[i] >= ts
	})
}

// FloorIndex returns the index of the last timestamp <= ts, or -1 if none.
func (r *TimestampReader) FloorIndex(ts int64) int {
	i := sort.Search(len(r.values), func(i int) bool {
		return r.values[i] > ts
	})
	return i - 1
}
