package downsample

import (
	"math"

	"github.com/chronodb/tscore/chunk"
)

// Downsampler computes one output double from a period's rows
// [startRow, endRow] (inclusive) of a double column. NaN rows are skipped
// per spec.md §4.5 "downsamplers never read NaN into aggregates"; ok is
// false when the period contains no non-NaN input (the period produces no
// output row).
type Downsampler func(values *chunk.DoubleReader, startRow, endRow int) (out float64, ok bool)

// MinDownsampler emits the minimum non-NaN value in the period.
func MinDownsampler(values *chunk.DoubleReader, startRow, endRow int) (float64, bool) {
	min := math.Inf(1)
	found := false
	for i := startRow; i <= endRow && i < values.Len(); i++ {
		v := values.At(i)
		if isNaN(v) {
			continue
		}
		if v < min {
			min = v
		}
		found = true
	}
	return min, found
}

// MaxDownsampler emits the maximum non-NaN value in the period.
func MaxDownsampler(values *chunk.DoubleReader, startRow, endRow int) (float64, bool) {
	max := math.Inf(-1)
	found := false
	for i := startRow; i <= endRow && i < values.Len(); i++ {
		v := values.At(i)
		if isNaN(v) {
			continue
		}
		if v > max {
			max = v
		}
		found = true
	}
	return max, found
}

// SumDownsampler emits the sum of non-NaN values in the period.
func SumDownsampler(values *chunk.DoubleReader, startRow, endRow int) (float64, bool) {
	n := values.Count(startRow, endRow)
	if n == 0 {
		return 0, false
	}
	return values.Sum(startRow, endRow), true
}

// CountDownsampler emits the count of non-NaN values in the period, as a
// double (it is itself re-downsampled by sum when rolling up further).
func CountDownsampler(values *chunk.DoubleReader, startRow, endRow int) (float64, bool) {
	n := values.Count(startRow, endRow)
	if n == 0 {
		return 0, false
	}
	return float64(n), true
}

// AvgDownsampler emits the mean of non-NaN values in the period, computed
// directly from raw samples.
func AvgDownsampler(values *chunk.DoubleReader, startRow, endRow int) (float64, bool) {
	n := values.Count(startRow, endRow)
	if n == 0 {
		return 0, false
	}
	return values.Sum(startRow, endRow) / float64(n), true
}

// LastValueDownsampler emits the last non-NaN value in the period,
// appropriate for gauges whose meaningful signal is "where it ended up".
func LastValueDownsampler(values *chunk.DoubleReader, startRow, endRow int) (float64, bool) {
	found := false
	var last float64
	for i := startRow; i <= endRow && i < values.Len(); i++ {
		v := values.At(i)
		if isNaN(v) {
			continue
		}
		last = v
		found = true
	}
	return last, found
}

// TimestampDownsampler emits the timestamp (as a float64 millis value) of
// the period's last row, used to anchor the output row's own timestamp
// column during re-downsampling chains.
func TimestampDownsampler(ts *chunk.TimestampReader, startRow, endRow int) (float64, bool) {
	if ts.Len() == 0 {
		return 0, false
	}
	end := endRow
	if end >= ts.Len() {
		end = ts.Len() - 1
	}
	if end < startRow {
		return 0, false
	}
	return float64(ts.At(end)), true
}

func isNaN(f float64) bool { return f != f }

// CombineAvgFromAvgCount re-derives a correct weighted average across a
// period from two already-downsampled columns (per-period avg, per-period
// count), per spec.md §4.5's "the running formula avg' = (avg*cnt +
// nextAvg*nextCnt)/(cnt+nextCnt)" - used when re-downsampling an avg
// column that was itself produced by a prior downsample pass, where
// re-averaging the averages directly would silently under-weight
// higher-count periods.
func CombineAvgFromAvgCount(avgs, counts []float64, startRow, endRow int) (float64, bool) {
	var weightedSum, totalCount float64
	found := false
	for i := startRow; i <= endRow && i < len(avgs) && i < len(counts); i++ {
		if isNaN(avgs[i]) || isNaN(counts[i]) || counts[i] == 0 {
			continue
		}
		weightedSum += avgs[i] * counts[i]
		totalCount += counts[i]
		found = true
	}
	if !found || totalCount == 0 {
		return 0, false
	}
	return weightedSum / totalCount, true
}

// CombineAvgFromSumCount derives an average from a period's already-summed
// sum and count columns (no weighting needed: sum/count is exact).
func CombineAvgFromSumCount(sums, counts []float64, startRow, endRow int) (float64, bool) {
	var sum, count float64
	found := false
	for i := startRow; i <= endRow && i < len(sums) && i < len(counts); i++ {
		if isNaN(sums[i]) || isNaN(counts[i]) {
			continue
		}
		sum += sums[i]
		count += counts[i]
		found = true
	}
	if !found || count == 0 {
		return 0, false
	}
	return sum / count, true
}

// HistogramSumDownsampler emits the `histogramSum` value: each bucket's
// counts summed across the period's rows, plus the sum of the rows' Sum
// values, used to roll up a
// histogram column to a coarser resolution while preserving the
// cumulative-bucket shape (spec.md §4.1, §4.5).
func HistogramSumDownsampler(values *chunk.HistogramReader, startRow, endRow int) (chunk.HistogramValue, bool) {
	numBuckets := len(values.Scheme().UpperBounds)
	if numBuckets == 0 {
		return chunk.HistogramValue{}, false
	}
	counts := make([]uint64, numBuckets)
	var sum float64
	found := false
	for i := startRow; i <= endRow && i < values.Len(); i++ {
		row := values.At(i)
		for b, c := range row.Counts {
			counts[b] += c
		}
		sum += row.Sum
		found = true
	}
	return chunk.HistogramValue{Counts: counts, Sum: sum}, found
}
