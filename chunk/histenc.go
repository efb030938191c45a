package chunk

import "math"

// BucketScheme describes the (shared) upper bounds of a histogram's
// buckets for one chunk. Schema may change across chunks within a
// partition (spec.md §4.1), but is fixed within a single HistogramEncoder.
type BucketScheme struct {
	UpperBounds []float64 // ascending, Inf-terminated by convention
}

// HistogramValue is one row's bucket counts (same length as the chunk's
// BucketScheme.UpperBounds) plus the row's total sum, used by the
// `histogramSum` downsampler.
type HistogramValue struct {
	Counts []uint64
	Sum    float64
}

// HistogramEncoder append-only encodes a column of histogram samples as a
// bucket-scheme header followed by per-bucket delta-varint columns
// (spec.md §4.1).
type HistogramEncoder struct {
	scheme BucketScheme
	w      *bitWriter
	count  int
	prev   []uint64
	prevSumBits uint64
	haveSum     bool
}

// NewHistogramEncoder returns an empty encoder for the given bucket scheme.
func NewHistogramEncoder(scheme BucketScheme) *HistogramEncoder {
	return &HistogramEncoder{scheme: scheme, w: newBitWriter(), prev: make([]uint64, len(scheme.UpperBounds))}
}

// Append adds the next histogram sample. len(v.Counts) must equal
// len(scheme.UpperBounds).
func (e *HistogramEncoder) Append(v HistogramValue) {
	for i, c := range v.Counts {
		var prev uint64
		if i < len(e.prev) {
			prev = e.prev[i]
		}
		e.w.writeVarint(int64(c) - int64(prev))
	}
	e.prev = append([]uint64(nil), v.Counts...)
	sumBits := math.Float64bits(v.Sum)
	e.w.writeVarint(int64(sumBits) - int64(e.prevSumBits))
	e.prevSumBits = sumBits
	e.count++
}

// Seal finalizes the encoder.
func (e *HistogramEncoder) Seal() (buf []byte, n int, scheme BucketScheme) {
	return e.w.bytes(), e.count, e.scheme
}

// HistogramReader decodes a sealed HistogramEncoder buffer.
type HistogramReader struct {
	scheme BucketScheme
	values []HistogramValue
}

// NewHistogramReader decodes buf into n random-access histogram rows.
func NewHistogramReader(buf []byte, n int, scheme BucketScheme) *HistogramReader {
	numBuckets := len(scheme.UpperBounds)
	values := make([]HistogramValue, 0, n)
	r := newBitReader(buf)
	prev := make([]uint64, numBuckets)
	var prevSumBits uint64
	for row := 0; row < n; row++ {
		counts := make([]uint64, numBuckets)
		ok := true
		for i := 0; i < numBuckets; i++ {
			d, rok := r.readVarint()
			if !rok {
				ok = false
				break
			}
			counts[i] = uint64(int64(prev[i]) + d)
		}
		if !ok {
			break
		}
		sumDelta, rok := r.readVarint()
		if !rok {
			break
		}
		sumBits := uint64(int64(prevSumBits) + sumDelta)
		values = append(values, HistogramValue{Counts: counts, Sum: math.Float64frombits(sumBits)})
		prev = counts
		prevSumBits = sumBits
	}
	return &HistogramReader{scheme: scheme, values: values}
}

func (r *HistogramReader) Len() int { return len(r.values) }

func (r *HistogramReader) At(rowNum int) HistogramValue { return r.values[rowNum] }

func (r *HistogramReader) Scheme() BucketScheme { return r.scheme }

// TotalCount returns the +Inf bucket's cumulative count (Counts[len-1]),
// i.e. the total number of observations; 0 for an empty histogram.
func (v HistogramValue) TotalCount() uint64 {
	if len(v.Counts) == 0 {
		return 0
	}
	return v.Counts[len(v.Counts)-1]
}
