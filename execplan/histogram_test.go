package execplan_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/series"
	"github.com/chronodb/tscore/shard"
)

func bucketRV(le string, extra map[string]string, count float64) model.RangeVector {
	labels := map[string]string{"le": le}
	for k, v := range extra {
		labels[k] = v
	}
	return rv(labels, model.Datapoint{Timestamp: 1000, Value: count})
}

func TestHistogramQuantileMapperInterpolatesWithinBucket(t *testing.T) {
	extra := map[string]string{"app": "x"}
	child := labeledRowsNode(
		bucketRV("0.1", extra, 0),
		bucketRV("0.5", extra, 50),
		bucketRV("1", extra, 100),
		bucketRV("+Inf", extra, 100),
	)
	node := &execplan.HistogramQuantileMapper{Child: child, Quantile: 0.5}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 1)
	for _, rows := range vectors {
		require.Len(t, rows, 1)
		require.Equal(t, int64(1000), rows[0].Timestamp)
		require.InDelta(t, 0.5, rows[0].Value, 1e-9)
	}
}

func TestHistogramQuantileMapperGroupsByNonLeLabels(t *testing.T) {
	child := labeledRowsNode(
		bucketRV("1", map[string]string{"app": "x"}, 10),
		bucketRV("+Inf", map[string]string{"app": "x"}, 10),
		bucketRV("1", map[string]string{"app": "y"}, 5),
		bucketRV("+Inf", map[string]string{"app": "y"}, 5),
	)
	node := &execplan.HistogramQuantileMapper{Child: child, Quantile: 0.9}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 2)
}

// TestSelectRawHistogramBucketsExecBackfillsAcrossSchemeChange is
// spec.md's Scenario F: samples land under a {10,100,+Inf} scheme and
// then a {10,50,100,+Inf} scheme, and the newly appearing le="50" series
// must carry NaN for the sample(s) that predate it.
func TestSelectRawHistogramBucketsExecBackfillsAcrossSchemeChange(t *testing.T) {
	schema, err := model.NewSchema("latency", []model.Column{
		{Name: "app", Type: model.ColumnTypeUTF8, PartitionKey: true},
		{Name: "timestamp", Type: model.ColumnTypeTimestamp},
		{Name: "latency", Type: model.ColumnTypeHistogram},
	})
	require.NoError(t, err)
	dataset := &model.Dataset{Name: "latency", Schema: schema, NumShards: 1}
	sh := shard.New(0, dataset, shard.Options{GroupsPerShard: 4})

	key := model.PartitionKey("x")
	labels := map[string]string{"app": "x"}

	schemeA := chunk.BucketScheme{UpperBounds: []float64{10, 100, math.Inf(1)}}
	require.NoError(t, sh.Ingest(key, labels, series.Row{
		Timestamp:        0,
		Histograms:       map[string]chunk.HistogramValue{"latency": {Counts: []uint64{1, 3, 3}, Sum: 12}},
		HistogramSchemes: map[string]chunk.BucketScheme{"latency": schemeA},
	}))
	sh.CommitIndex()

	matches, err := sh.PartitionsWithLabelsMatching(nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	_, err = matches[0].Partition.SwitchBuffers(true)
	require.NoError(t, err)

	schemeB := chunk.BucketScheme{UpperBounds: []float64{10, 50, 100, math.Inf(1)}}
	require.NoError(t, sh.Ingest(key, labels, series.Row{
		Timestamp:        1000,
		Histograms:       map[string]chunk.HistogramValue{"latency": {Counts: []uint64{1, 2, 4, 4}, Sum: 20}},
		HistogramSchemes: map[string]chunk.BucketScheme{"latency": schemeB},
	}))
	sh.CommitIndex()
	_, err = matches[0].Partition.SwitchBuffers(true)
	require.NoError(t, err)

	node := &execplan.SelectRawHistogramBucketsExec{Shard: sh, Column: "latency", Start: 0, End: 1000}

	session := newTestSession()
	_, stream, err := node.Execute(session)
	require.NoError(t, err)
	rvs, err := execplan.Collect(session, stream)
	require.NoError(t, err)
	require.Len(t, rvs, 4)

	byLE := map[string][]model.Datapoint{}
	for _, v := range rvs {
		le, ok := v.Key.Get("le")
		require.True(t, ok)
		rows, err := model.Drain(v.Rows)
		require.NoError(t, err)
		byLE[le] = rows
	}

	require.ElementsMatch(t, []string{"10", "50", "100", "+Inf"}, keysOf(byLE))

	fifty := byLE["50"]
	require.Len(t, fifty, 2)
	require.True(t, math.IsNaN(fifty[0].Value))
	require.Equal(t, float64(2), fifty[1].Value)

	ten := byLE["10"]
	require.Len(t, ten, 2)
	require.Equal(t, float64(1), ten[0].Value)
	require.Equal(t, float64(1), ten[1].Value)
}

func keysOf(m map[string][]model.Datapoint) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
