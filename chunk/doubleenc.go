package chunk

import (
	"math"
	"math/bits"
)

// DoubleEncoder append-only XOR-compresses a column of float64 values,
// per spec.md §4.1. NaN bit patterns are preserved exactly (XOR compression
// operates on the raw IEEE-754 bits, never interprets them), and the
// encoder tracks the "counter-dip" detector: dropped is set whenever an
// appended value is strictly less than the prior one, with every such row
// index recorded for the downsample pipeline's counter period marker
// (spec.md §4.5).
type DoubleEncoder struct {
	w *bitWriter

	count        int
	prevBits     uint64
	prevValue    float64
	prevLeading  int
	prevTrailing int
	haveWindow   bool

	dropped      bool
	dropPositions []int
}

// NewDoubleEncoder returns an empty encoder.
func NewDoubleEncoder() *DoubleEncoder {
	return &DoubleEncoder{w: newBitWriter(), prevLeading: -1}
}

// Append adds the next value.
func (e *DoubleEncoder) Append(v float64) {
	bitsV := math.Float64bits(v)
	if e.count == 0 {
		e.w.writeBits(bitsV, 64)
		e.prevBits = bitsV
		e.prevValue = v
		e.count++
		return
	}

	if v < e.prevValue {
		e.dropped = true
		e.dropPositions = append(e.dropPositions, e.count)
	}

	xor := bitsV ^ e.prevBits
	if xor == 0 {
		e.w.writeBit(0)
	} else {
		e.w.writeBit(1)
		leading := bits.LeadingZeros64(xor)
		trailing := bits.TrailingZeros64(xor)
		if leading > 31 {
			leading = 31 // fits in 5 bits
		}
		if e.haveWindow && leading >= e.prevLeading && trailing >= e.prevTrailing {
			e.w.writeBit(0)
			meaningful := 64 - e.prevLeading - e.prevTrailing
			e.w.writeBits(xor>>uint(e.prevTrailing), meaningful)
		} else {
			e.w.writeBit(1)
			e.w.writeBits(uint64(leading), 5)
			meaningful := 64 - leading - trailing
			e.w.writeBits(uint64(meaningful), 6)
			e.w.writeBits(xor>>uint(trailing), meaningful)
			e.prevLeading = leading
			e.prevTrailing = trailing
			e.haveWindow = true
		}
	}
	e.prevBits = bitsV
	e.prevValue = v
	e.count++
}

// Seal finalizes the encoder, returning the encoded bytes, row count,
// whether any drop was observed, and the sorted drop row positions.
func (e *DoubleEncoder) Seal() (buf []byte, n int, dropped bool, dropPositions []int) {
	return e.w.bytes(), e.count, e.dropped, e.dropPositions
}

// DoubleReader decodes a sealed DoubleEncoder buffer.
type DoubleReader struct {
	values        []float64
	dropped       bool
	dropPositions []int
}

// NewDoubleReader decodes buf into n random-access values.
func NewDoubleReader(buf []byte, n int, dropped bool, dropPositions []int) *DoubleReader {
	values := make([]float64, 0, n)
	if n == 0 {
		return &DoubleReader{dropped: dropped, dropPositions: dropPositions}
	}
	r := newBitReader(buf)
	firstBits, ok := r.readBits(64)
	if !ok {
		return &DoubleReader{dropped: dropped, dropPositions: dropPositions}
	}
	prevBits := firstBits
	values = append(values, math.Float64frombits(firstBits))

	prevLeading, prevTrailing := -1, -1
	haveWindow := false
	for len(values) < n {
		ctrl, ok := r.readBit()
		if !ok {
			break
		}
		if ctrl == 0 {
			values = append(values, math.Float64frombits(prevBits))
			continue
		}
		windowBit, ok := r.readBit()
		if !ok {
			break
		}
		var leading, meaningful int
		if windowBit == 0 {
			leading, meaningful = prevLeading, 64-prevLeading-prevTrailing
		} else {
			l, ok := r.readBits(5)
			if !ok {
				break
			}
			m, ok := r.readBits(6)
			if !ok {
				break
			}
			leading = int(l)
			meaningful = int(m)
			if meaningful == 0 {
				meaningful = 64 // the encoder writes a 64-bit width as 0 in 6 bits
			}
			prevLeading = leading
			prevTrailing = 64 - leading - meaningful
			haveWindow = true
		}
		trailing := 64 - leading - meaningful
		if haveWindow {
			prevTrailing = trailing
		}
		mbits, ok := r.readBits(meaningful)
		if !ok {
			break
		}
		xor := mbits << uint(trailing)
		newBits := prevBits ^ xor
		values = append(values, math.Float64frombits(newBits))
		prevBits = newBits
	}
	return &DoubleReader{values: values, dropped: dropped, dropPositions: dropPositions}
}

func (r *DoubleReader) Len() int { return len(r.values) }

func (r *DoubleReader) At(rowNum int) float64 { return r.values[rowNum] }

func (r *DoubleReader) All() []float64 { return r.values }

func (r *DoubleReader) Iterate(startRow int) []float64 {
	if startRow >= len(r.values) {
		return nil
	}
	return r.values[startRow:]
}

// Sum computes the sum over [startRow, endRow], skipping NaN (spec.md
// §4.5 "Downsamplers never read NaN into aggregates").
func (r *DoubleReader) Sum(startRow, endRow int) float64 {
	var sum float64
	for i := startRow; i <= endRow && i < len(r.values); i++ {
		if isNaN(r.values[i]) {
			continue
		}
		sum += r.values[i]
	}
	return sum
}

// Count counts non-NaN values over [startRow, endRow].
func (r *DoubleReader) Count(startRow, endRow int) int {
	n := 0
	for i := startRow; i <= endRow && i < len(r.values); i++ {
		if !isNaN(r.values[i]) {
			n++
		}
	}
	return n
}

// Dropped reports whether a counter-dip was observed during encoding.
func (r *DoubleReader) Dropped() bool { return r.dropped }

// DropPositions returns the sorted row indices where a drop begins.
func (r *DoubleReader) DropPositions() []int { return r.dropPositions }

func isNaN(f float64) bool { return f != f }
