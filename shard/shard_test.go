package shard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/remote/memsink"
	"github.com/chronodb/tscore/series"
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

func TestShardIngestAndIndexLookup(t *testing.T) {
	sh := New(0, testDataset(t), Options{GroupsPerShard: 4})

	keyX := model.PartitionKey("app=x")
	keyY := model.PartitionKey("app=y")
	require.NoError(t, sh.Ingest(keyX, map[string]string{"app": "x"}, series.Row{Timestamp: 1, Doubles: map[string]float64{"value": 1}}))
	require.NoError(t, sh.Ingest(keyY, map[string]string{"app": "y"}, series.Row{Timestamp: 1, Doubles: map[string]float64{"value": 2}}))
	sh.CommitIndex()

	parts, err := sh.PartitionsMatching([]LabelFilter{{Name: "app", Value: "x", Op: FilterEquals}})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.True(t, parts[0].Key.Equal(keyX))
}

func TestShardIndexUncommittedNotVisible(t *testing.T) {
	sh := New(0, testDataset(t), Options{GroupsPerShard: 1})
	require.NoError(t, sh.Ingest(model.PartitionKey("app=x"), map[string]string{"app": "x"}, series.Row{Timestamp: 1, Doubles: map[string]float64{"value": 1}}))

	parts, err := sh.PartitionsMatching([]LabelFilter{{Name: "app", Value: "x", Op: FilterEquals}})
	require.NoError(t, err)
	require.Len(t, parts, 0, "uncommitted additions must not be visible")

	sh.CommitIndex()
	parts, err = sh.PartitionsMatching([]LabelFilter{{Name: "app", Value: "x", Op: FilterEquals}})
	require.NoError(t, err)
	require.Len(t, parts, 1)
}

func TestShardFlushGroupWritesToSink(t *testing.T) {
	store := memsink.New()
	sh := New(0, testDataset(t), Options{GroupsPerShard: 1, Sink: store, RawTTLSeconds: 3600})

	for i := 0; i < 5; i++ {
		require.NoError(t, sh.Ingest(model.PartitionKey("app=x"), map[string]string{"app": "x"}, series.Row{
			Timestamp: int64(i) * 1000, Doubles: map[string]float64{"value": float64(i)},
		}))
	}

	n, err := sh.FlushGroup(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestShardFlushGroupIfDueRespectsInterval(t *testing.T) {
	store := memsink.New()
	sh := New(0, testDataset(t), Options{GroupsPerShard: 1, Sink: store, FlushInterval: time.Hour})

	require.NoError(t, sh.Ingest(model.PartitionKey("app=x"), map[string]string{"app": "x"}, series.Row{Timestamp: 1, Doubles: map[string]float64{"value": 1}}))

	n, err := sh.FlushGroupIfDue(context.Background(), 0, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n, "first call has no prior flush timestamp so is always due")

	require.NoError(t, sh.Ingest(model.PartitionKey("app=x"), map[string]string{"app": "x"}, series.Row{Timestamp: 2, Doubles: map[string]float64{"value": 2}}))
	n, err = sh.FlushGroupIfDue(context.Background(), 0, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n, "flush interval has not elapsed")
}

func TestShardEvictionDropsChunksNotIndex(t *testing.T) {
	sh := New(0, testDataset(t), Options{GroupsPerShard: 1, MaxChunks: 1})

	for _, pk := range []string{"app=x", "app=y"} {
		require.NoError(t, sh.Ingest(model.PartitionKey(pk), map[string]string{"app": pk}, series.Row{Timestamp: 1, Doubles: map[string]float64{"value": 1}}))
	}
	sh.CommitIndex()

	for _, e := range sh.partitions {
		_, err := e.partition.SwitchBuffers(true)
		require.NoError(t, err)
	}

	evicted := sh.EvictLeastRecentlyQueried()
	require.Greater(t, evicted, 0)
	require.Equal(t, 2, sh.NumPartitions(), "eviction must not remove partitions from the directory")
}
