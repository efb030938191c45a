package execplan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/model"
)

func labeledRowsNode(rows ...model.RangeVector) *multiRowsNode {
	return &multiRowsNode{rows: rows}
}

type multiRowsNode struct {
	rows []model.RangeVector
}

func (n *multiRowsNode) Execute(*execplan.QuerySession) (model.ResultSchema, *execplan.RangeVectorStream, error) {
	stream := execplan.NewRangeVectorStream(len(n.rows))
	for _, rv := range n.rows {
		stream.Send(rv)
	}
	stream.Close(nil)
	return model.ResultSchema{IsTimeSeries: true}, stream, nil
}

func rv(labels map[string]string, rows ...model.Datapoint) model.RangeVector {
	return model.RangeVector{Key: model.NewRangeVectorKey(labels), Rows: model.NewSliceIterator(rows)}
}

func TestAggregateExecSumByLabel(t *testing.T) {
	child := labeledRowsNode(
		rv(map[string]string{"app": "x", "host": "a"}, model.Datapoint{Timestamp: 1000, Value: 1}, model.Datapoint{Timestamp: 2000, Value: 2}),
		rv(map[string]string{"app": "x", "host": "b"}, model.Datapoint{Timestamp: 1000, Value: 10}, model.Datapoint{Timestamp: 2000, Value: 20}),
		rv(map[string]string{"app": "y", "host": "c"}, model.Datapoint{Timestamp: 1000, Value: 100}),
	)
	node := &execplan.AggregateExec{Child: child, Op: "sum", By: []string{"app"}}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 2)
	xKey := model.NewRangeVectorKey(map[string]string{"app": "x"}).Signature()
	yKey := model.NewRangeVectorKey(map[string]string{"app": "y"}).Signature()
	require.Equal(t, []model.Datapoint{{Timestamp: 1000, Value: 11}, {Timestamp: 2000, Value: 22}}, vectors[xKey])
	require.Equal(t, []model.Datapoint{{Timestamp: 1000, Value: 100}}, vectors[yKey])
}

func TestAggregateExecTopK(t *testing.T) {
	child := labeledRowsNode(
		rv(map[string]string{"host": "a"}, model.Datapoint{Timestamp: 1000, Value: 1}),
		rv(map[string]string{"host": "b"}, model.Datapoint{Timestamp: 1000, Value: 3}),
		rv(map[string]string{"host": "c"}, model.Datapoint{Timestamp: 1000, Value: 2}),
	)
	node := &execplan.AggregateExec{Child: child, Op: "topk", Param: 2}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 2)
	bKey := model.NewRangeVectorKey(map[string]string{"host": "b"}).Signature()
	cKey := model.NewRangeVectorKey(map[string]string{"host": "c"}).Signature()
	require.Contains(t, vectors, bKey)
	require.Contains(t, vectors, cKey)
}

func TestAggregateExecCountValues(t *testing.T) {
	child := labeledRowsNode(
		rv(map[string]string{"host": "a"}, model.Datapoint{Timestamp: 1000, Value: 1}),
		rv(map[string]string{"host": "b"}, model.Datapoint{Timestamp: 1000, Value: 1}),
		rv(map[string]string{"host": "c"}, model.Datapoint{Timestamp: 1000, Value: 2}),
	)
	node := &execplan.AggregateExec{Child: child, Op: "count_values", By: []string{"value"}}

	vectors := collectAll(t, node)
	require.Len(t, vectors, 2)
	oneKey := model.NewRangeVectorKey(map[string]string{"value": "1"}).Signature()
	twoKey := model.NewRangeVectorKey(map[string]string{"value": "2"}).Signature()
	require.Equal(t, []model.Datapoint{{Value: 2}}, vectors[oneKey])
	require.Equal(t, []model.Datapoint{{Value: 1}}, vectors[twoKey])
}
