package execplan_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/model"
)

func TestSetOperatorExecAndMasksUnmatchedTimestamps(t *testing.T) {
	lhs := labeledRowsNode(rv(map[string]string{"app": "x"},
		model.Datapoint{Timestamp: 1000, Value: 1}, model.Datapoint{Timestamp: 2000, Value: 2}))
	rhs := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 99}))

	node := &execplan.SetOperatorExec{LHS: lhs, RHS: rhs, Op: "and", On: []string{"app"}}
	vectors := collectAll(t, node)
	require.Len(t, vectors, 1)
	for _, rows := range vectors {
		require.Len(t, rows, 2)
		require.Equal(t, float64(1), rows[0].Value)
		require.True(t, math.IsNaN(rows[1].Value))
	}
}

func TestSetOperatorExecUnlessDropsMatchedSeries(t *testing.T) {
	lhs := labeledRowsNode(
		rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 1}),
		rv(map[string]string{"app": "y"}, model.Datapoint{Timestamp: 1000, Value: 2}),
	)
	rhs := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 99}))

	node := &execplan.SetOperatorExec{LHS: lhs, RHS: rhs, Op: "unless", On: []string{"app"}}
	vectors := collectAll(t, node)
	require.Len(t, vectors, 1)
	yKey := model.NewRangeVectorKey(map[string]string{"app": "y"}).Signature()
	require.Contains(t, vectors, yKey)
}

func TestSetOperatorExecOrUnionsUnmatchedRHS(t *testing.T) {
	lhs := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 1}))
	rhs := labeledRowsNode(rv(map[string]string{"app": "y"}, model.Datapoint{Timestamp: 1000, Value: 2}))

	node := &execplan.SetOperatorExec{LHS: lhs, RHS: rhs, Op: "or", On: []string{"app"}}
	vectors := collectAll(t, node)
	require.Len(t, vectors, 2)
}
