package execplan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/model"
)

func TestApplyInstantFunctionExecAbs(t *testing.T) {
	child := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: -4}, model.Datapoint{Timestamp: 2000, Value: 3}))
	node := &execplan.ApplyInstantFunctionExec{Child: child, FunctionName: "abs"}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 1)
	for _, rows := range vectors {
		require.Equal(t, []model.Datapoint{{Timestamp: 1000, Value: 4}, {Timestamp: 2000, Value: 3}}, rows)
	}
}

func TestApplyInstantFunctionExecClampMin(t *testing.T) {
	child := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 1}))
	node := &execplan.ApplyInstantFunctionExec{Child: child, FunctionName: "clamp_min", Args: []float64{5}}

	vectors := collectAll(t, node)
	for _, rows := range vectors {
		require.Equal(t, float64(5), rows[0].Value)
	}
}

func TestApplySortFunctionExecOrdersByFinalValue(t *testing.T) {
	child := labeledRowsNode(
		rv(map[string]string{"host": "a"}, model.Datapoint{Timestamp: 1000, Value: 3}),
		rv(map[string]string{"host": "b"}, model.Datapoint{Timestamp: 1000, Value: 1}),
		rv(map[string]string{"host": "c"}, model.Datapoint{Timestamp: 1000, Value: 2}),
	)
	node := &execplan.ApplySortFunctionExec{Child: child}

	session := newTestSession()
	_, stream, err := node.Execute(session)
	require.NoError(t, err)
	rvs, err := execplan.Collect(session, stream)
	require.NoError(t, err)
	require.Len(t, rvs, 3)

	var order []string
	for _, v := range rvs {
		host, _ := v.Key.Get("host")
		order = append(order, host)
	}
	require.Equal(t, []string{"b", "c", "a"}, order)
}

func TestApplyAbsentFunctionExecEmitsSyntheticSeriesWhenEmpty(t *testing.T) {
	child := labeledRowsNode()
	node := &execplan.ApplyAbsentFunctionExec{Child: child, Labels: map[string]string{"app": "x"}}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 1)
}

func TestApplyAbsentFunctionExecEmitsNothingWhenChildHasSeries(t *testing.T) {
	child := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 1}))
	node := &execplan.ApplyAbsentFunctionExec{Child: child}

	vectors := collectAll(t, node)
	require.Empty(t, vectors)
}

func TestScalarVectorBinaryOperationExecMultipliesEachSample(t *testing.T) {
	scalar := &fixedRowsNode{key: model.NewRangeVectorKey(nil), rows: []model.Datapoint{
		{Timestamp: 1000, Value: 2}, {Timestamp: 2000, Value: 2},
	}}
	vector := labeledRowsNode(rv(map[string]string{"app": "x"}, model.Datapoint{Timestamp: 1000, Value: 3}, model.Datapoint{Timestamp: 2000, Value: 4}))

	node := &execplan.ScalarVectorBinaryOperationExec{Scalar: scalar, Vector: vector, Op: "*"}
	vectors := collectAll(t, node)
	for _, rows := range vectors {
		require.Equal(t, []model.Datapoint{{Timestamp: 1000, Value: 6}, {Timestamp: 2000, Value: 8}}, rows)
	}
}
