// Package transform implements the range functions of spec.md §4.8:
// rate, irate, increase, delta, and the *_over_time aggregators. Each is
// implemented as a sliding (row-stream) variant, always correct, plus a
// chunked (per-chunk-column) variant for the associative aggregators
// (sum/avg/count/min/max). PeriodicSamplesMapper does not call the
// chunked variant; it always uses the sliding WindowFunc. Grounded on
// functions/temporal/aggregation.go's `aggFuncs map[string]func([]float64)
// float64` registry, generalized to also see timestamps (rate/irate/
// increase/delta need them) and split by "needs a raw slice" vs. "can run
// directly over an encoded column".
package transform

import (
	"math"
	"sort"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/model"
)

// WindowFunc computes one output value from the datapoints falling in a
// lookback window (t-window, t]. An empty window yields NaN.
type WindowFunc func(window []model.Datapoint) float64

// Registry holds every parameterless range function named in spec.md
// §4.8.
var Registry = map[string]WindowFunc{
	"sum_over_time":    sumOverTime,
	"avg_over_time":    avgOverTime,
	"count_over_time":  countOverTime,
	"min_over_time":    minOverTime,
	"max_over_time":    maxOverTime,
	"stddev_over_time": stddevOverTime,
	"stdvar_over_time": stdvarOverTime,
	"rate":             rate,
	"irate":            irate,
	"increase":         increase,
	"delta":            delta,
}

// QuantileOverTime returns the quantile_over_time(p, ...) WindowFunc for
// a fixed p, since unlike the rest of the registry it takes a parameter.
func QuantileOverTime(p float64) WindowFunc {
	return func(window []model.Datapoint) float64 { return quantile(p, values(window)) }
}

// Associative reports whether name's aggregation can be computed
// chunk-by-chunk and combined (sum/count trivially; min/max; avg via
// sum+count) as opposed to needing the full ordered row window (rate and
// friends, stddev/stdvar which need two passes over the same values).
func Associative(name string) bool {
	switch name {
	case "sum_over_time", "count_over_time", "min_over_time", "max_over_time", "avg_over_time":
		return true
	default:
		return false
	}
}

// Chunked computes the range function directly over an encoded double
// column for the associative registry entries, avoiding a decode-to-slice
// round trip when the window falls entirely within one chunk. ok is false
// for a non-associative name or an empty window.
func Chunked(name string, reader *chunk.DoubleReader, startRow, endRow int) (out float64, ok bool) {
	switch name {
	case "sum_over_time":
		n := reader.Count(startRow, endRow)
		if n == 0 {
			return 0, false
		}
		return reader.Sum(startRow, endRow), true
	case "count_over_time":
		n := reader.Count(startRow, endRow)
		if n == 0 {
			return 0, false
		}
		return float64(n), true
	case "avg_over_time":
		n := reader.Count(startRow, endRow)
		if n == 0 {
			return 0, false
		}
		return reader.Sum(startRow, endRow) / float64(n), true
	case "min_over_time":
		return chunkedMinMax(reader, startRow, endRow, false)
	case "max_over_time":
		return chunkedMinMax(reader, startRow, endRow, true)
	default:
		return 0, false
	}
}

func chunkedMinMax(reader *chunk.DoubleReader, startRow, endRow int, max bool) (float64, bool) {
	found := false
	best := math.Inf(1)
	if max {
		best = math.Inf(-1)
	}
	for i := startRow; i <= endRow && i < reader.Len(); i++ {
		v := reader.At(i)
		if isNaN(v) {
			continue
		}
		if (max && v > best) || (!max && v < best) {
			best = v
		}
		found = true
	}
	return best, found
}

func isNaN(f float64) bool { return f != f }

func values(w []model.Datapoint) []float64 {
	out := make([]float64, 0, len(w))
	for _, dp := range w {
		if !isNaN(dp.Value) {
			out = append(out, dp.Value)
		}
	}
	return out
}

func sumOverTime(w []model.Datapoint) float64 {
	vs := values(w)
	if len(vs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum
}

func avgOverTime(w []model.Datapoint) float64 {
	vs := values(w)
	if len(vs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func countOverTime(w []model.Datapoint) float64 {
	vs := values(w)
	if len(vs) == 0 {
		return math.NaN()
	}
	return float64(len(vs))
}

func minOverTime(w []model.Datapoint) float64 {
	vs := values(w)
	if len(vs) == 0 {
		return math.NaN()
	}
	min := vs[0]
	for _, v := range vs[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func maxOverTime(w []model.Datapoint) float64 {
	vs := values(w)
	if len(vs) == 0 {
		return math.NaN()
	}
	max := vs[0]
	for _, v := range vs[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func stddevOverTime(w []model.Datapoint) float64 {
	v := stdvarOverTime(w)
	if isNaN(v) {
		return v
	}
	return math.Sqrt(v)
}

func stdvarOverTime(w []model.Datapoint) float64 {
	vs := values(w)
	if len(vs) == 0 {
		return math.NaN()
	}
	var mean, m2 float64
	for i, v := range vs {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	return m2 / float64(len(vs))
}

func quantile(p float64, vs []float64) float64 {
	if len(vs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// rate computes the per-second average rate of increase of a counter over
// the window, treating any decrease between consecutive samples as a
// counter reset (the decreased value is taken as the post-reset
// increase), per PromQL's `rate()` semantics.
func rate(w []model.Datapoint) float64 {
	if len(w) < 2 {
		return math.NaN()
	}
	sum := extrapolatedIncrease(w)
	dt := float64(w[len(w)-1].Timestamp-w[0].Timestamp) / 1000
	if dt <= 0 {
		return math.NaN()
	}
	return sum / dt
}

// irate computes the instant rate from the last two samples in the
// window only.
func irate(w []model.Datapoint) float64 {
	if len(w) < 2 {
		return math.NaN()
	}
	last := w[len(w)-1]
	prev := w[len(w)-2]
	dv := last.Value - prev.Value
	if dv < 0 {
		dv = last.Value
	}
	dt := float64(last.Timestamp-prev.Timestamp) / 1000
	if dt <= 0 {
		return math.NaN()
	}
	return dv / dt
}

func increase(w []model.Datapoint) float64 {
	if len(w) < 2 {
		return math.NaN()
	}
	return extrapolatedIncrease(w)
}

func delta(w []model.Datapoint) float64 {
	if len(w) < 2 {
		return math.NaN()
	}
	return w[len(w)-1].Value - w[0].Value
}

func extrapolatedIncrease(w []model.Datapoint) float64 {
	var sum float64
	for i := 1; i < len(w); i++ {
		d := w[i].Value - w[i-1].Value
		if d < 0 {
			d = w[i].Value
		}
		sum += d
	}
	return sum
}
