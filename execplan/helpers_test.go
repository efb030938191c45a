package execplan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/series"
	"github.com/chronodb/tscore/shard"
)

func testDataset(t *testing.T) *model.Dataset {
	t.Helper()
	schema, err := model.NewSchema("heap", []model.Column{
		{Name: "app", Type: model.ColumnTypeUTF8, PartitionKey: true},
		{Name: "timestamp", Type: model.ColumnTypeTimestamp},
		{Name: "value", Type: model.ColumnTypeDouble},
	})
	require.NoError(t, err)
	return &model.Dataset{Name: "heap", Schema: schema, NumShards: 1}
}

// newTestShard builds a single shard and ingests count points spaced
// stepMillis apart, starting at timestamp 0, tagged with labels, then
// commits the index so the rows are immediately visible to queries.
func newTestShard(t *testing.T, labels map[string]string, count int, stepMillis int64, valueAt func(i int) float64) *shard.Shard {
	t.Helper()
	sh := shard.New(0, testDataset(t), shard.Options{GroupsPerShard: 4})
	key := model.PartitionKey(labels["app"])
	for i := 0; i < count; i++ {
		row := series.Row{Timestamp: int64(i) * stepMillis, Doubles: map[string]float64{"value": valueAt(i)}}
		require.NoError(t, sh.Ingest(key, labels, row))
	}
	sh.CommitIndex()
	return sh
}

func newTestSession() *execplan.QuerySession {
	return execplan.NewQuerySession(context.Background(), time.Time{}, 0)
}

// collectAll executes node and drains every RangeVector's rows, keyed by
// the series' Signature for assertions independent of stream ordering.
func collectAll(t *testing.T, node execplan.Node) map[string][]model.Datapoint {
	t.Helper()
	session := newTestSession()
	_, stream, err := node.Execute(session)
	require.NoError(t, err)
	vectors, err := execplan.Collect(session, stream)
	require.NoError(t, err)

	out := make(map[string][]model.Datapoint, len(vectors))
	for _, rv := range vectors {
		rows, err := model.Drain(rv.Rows)
		require.NoError(t, err)
		out[rv.Key.Signature()] = rows
	}
	return out
}
