package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/model"
)

func points(vs ...float64) []model.Datapoint {
	out := make([]model.Datapoint, len(vs))
	for i, v := range vs {
		out[i] = model.Datapoint{Timestamp: int64(i) * 1000, Value: v}
	}
	return out
}

func TestOverTimeAggregators(t *testing.T) {
	w := points(1, 2, 3, 4)
	require.Equal(t, float64(10), sumOverTime(w))
	require.Equal(t, float64(2.5), avgOverTime(w))
	require.Equal(t, float64(4), countOverTime(w))
	require.Equal(t, float64(1), minOverTime(w))
	require.Equal(t, float64(4), maxOverTime(w))
}

func TestOverTimeAggregatorsEmptyWindowIsNaN(t *testing.T) {
	require.True(t, math.IsNaN(sumOverTime(nil)))
	require.True(t, math.IsNaN(avgOverTime(nil)))
}

func TestStddevAndStdvarOverTime(t *testing.T) {
	w := points(2, 4, 4, 4, 5, 5, 7, 9)
	require.InDelta(t, 4.0, stdvarOverTime(w), 1e-9)
	require.InDelta(t, 2.0, stddevOverTime(w), 1e-9)
}

func TestQuantileOverTime(t *testing.T) {
	fn := QuantileOverTime(0.5)
	require.InDelta(t, 2.5, fn(points(1, 2, 3, 4)), 1e-9)
}

func TestRateExtrapolatesCounterResets(t *testing.T) {
	w := []model.Datapoint{
		{Timestamp: 0, Value: 10},
		{Timestamp: 1000, Value: 20},
		{Timestamp: 2000, Value: 5}, // reset: treated as an increase of 5
	}
	require.InDelta(t, 7.5, rate(w), 1e-9) // (10 + 5) / 2s
}

func TestIrateUsesLastTwoSamplesOnly(t *testing.T) {
	w := []model.Datapoint{
		{Timestamp: 0, Value: 1},
		{Timestamp: 1000, Value: 100},
		{Timestamp: 2000, Value: 106},
	}
	require.InDelta(t, 6, irate(w), 1e-9)
}

func TestIncreaseAndDelta(t *testing.T) {
	w := points(10, 15, 25)
	require.Equal(t, float64(15), increase(w))
	require.Equal(t, float64(15), delta(w))
}

func TestAssociative(t *testing.T) {
	require.True(t, Associative("sum_over_time"))
	require.True(t, Associative("avg_over_time"))
	require.False(t, Associative("rate"))
	require.False(t, Associative("stddev_over_time"))
}

func TestChunkedMatchesSlidingForAssociativeOps(t *testing.T) {
	enc := chunk.NewDoubleEncoder()
	for _, v := range []float64{1, 2, 3, 4, 5} {
		enc.Append(v)
	}
	buf, n, dropped, positions := enc.Seal()
	reader := chunk.NewDoubleReader(buf, n, dropped, positions)

	sum, ok := Chunked("sum_over_time", reader, 0, n-1)
	require.True(t, ok)
	require.Equal(t, float64(15), sum)

	avg, ok := Chunked("avg_over_time", reader, 0, n-1)
	require.True(t, ok)
	require.Equal(t, float64(3), avg)

	count, ok := Chunked("count_over_time", reader, 0, n-1)
	require.True(t, ok)
	require.Equal(t, float64(5), count)

	min, ok := Chunked("min_over_time", reader, 0, n-1)
	require.True(t, ok)
	require.Equal(t, float64(1), min)

	max, ok := Chunked("max_over_time", reader, 0, n-1)
	require.True(t, ok)
	require.Equal(t, float64(5), max)

	_, ok = Chunked("rate", reader, 0, n-1)
	require.False(t, ok)
}
