package execplan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/shard"
)

func TestSelectRawPartitionsExecReadsMatchingPartitions(t *testing.T) {
	sh := newTestShard(t, map[string]string{"app": "x"}, 5, 1000, func(i int) float64 { return float64(i) })

	node := &execplan.SelectRawPartitionsExec{
		Shard:   sh,
		Filters: []shard.LabelFilter{{Name: "app", Value: "x", Op: shard.FilterEquals}},
		Columns: []string{"value"},
		Start:   0, End: 4000,
	}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 1)
	for _, rows := range vectors {
		require.Len(t, rows, 5)
		for i, r := range rows {
			require.Equal(t, int64(i)*1000, r.Timestamp)
			require.Equal(t, float64(i), r.Value)
		}
	}
}

func TestSelectRawPartitionsExecNoMatch(t *testing.T) {
	sh := newTestShard(t, map[string]string{"app": "x"}, 3, 1000, func(i int) float64 { return float64(i) })

	node := &execplan.SelectRawPartitionsExec{
		Shard:   sh,
		Filters: []shard.LabelFilter{{Name: "app", Value: "y", Op: shard.FilterEquals}},
		Columns: []string{"value"},
		Start:   0, End: 4000,
	}

	vectors := collectAll(t, node)
	require.Empty(t, vectors)
}

func TestLocalPartitionDistConcatExecFansOutAcrossShards(t *testing.T) {
	shardX := newTestShard(t, map[string]string{"app": "x"}, 2, 1000, func(i int) float64 { return 1 })
	shardY := newTestShard(t, map[string]string{"app": "y"}, 2, 1000, func(i int) float64 { return 2 })

	children := []execplan.Node{
		&execplan.SelectRawPartitionsExec{Shard: shardX, Columns: []string{"value"}, Start: 0, End: 2000},
		&execplan.SelectRawPartitionsExec{Shard: shardY, Columns: []string{"value"}, Start: 0, End: 2000},
	}
	node := &execplan.LocalPartitionDistConcatExec{Children: children}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 2)
}
