package planner

import (
	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/model"
)

// fixedScalarExec materializes logicalplan.ScalarFixedDouble: a constant
// scalar value repeated at every step, emitted as a single unkeyed series
// (spec.md §4.6 scalars are themselves not time series, but downstream
// transformers consume them through the same RangeVectorStream contract).
type fixedScalarExec struct {
	value      float64
	start, end int64
}

func (n *fixedScalarExec) Execute(*execplan.QuerySession) (model.ResultSchema, *execplan.RangeVectorStream, error) {
	rows := []model.Datapoint{{Timestamp: n.start, Value: n.value}, {Timestamp: n.end, Value: n.value}}
	stream := execplan.NewRangeVectorStream(1)
	stream.Send(model.RangeVector{Key: model.NewRangeVectorKey(nil), Rows: model.NewSliceIterator(rows)})
	stream.Close(nil)
	return model.ResultSchema{IsTimeSeries: false}, stream, nil
}

// varyingScalarExec materializes logicalplan.ScalarVaryingDouble: an
// explicit per-timestamp scalar series produced by an earlier plan stage.
type varyingScalarExec struct {
	values map[int64]float64
}

func (n *varyingScalarExec) Execute(*execplan.QuerySession) (model.ResultSchema, *execplan.RangeVectorStream, error) {
	rows := make([]model.Datapoint, 0, len(n.values))
	for ts, v := range n.values {
		rows = append(rows, model.Datapoint{Timestamp: ts, Value: v})
	}
	sortDatapoints(rows)
	stream := execplan.NewRangeVectorStream(1)
	stream.Send(model.RangeVector{Key: model.NewRangeVectorKey(nil), Rows: model.NewSliceIterator(rows)})
	stream.Close(nil)
	return model.ResultSchema{IsTimeSeries: false}, stream, nil
}

// timeBasedScalarExec materializes logicalplan.ScalarTimeBased (the
// `time()` function): the query timestamp itself as the value at every
// step. Without a step, a single sample is unresolvable, so planner
// materialization of this node always occurs beneath a
// PeriodicSamplesMapper which re-timestamps it anyway; start/end are kept
// only to bound how many placeholder points are emitted here.
type timeBasedScalarExec struct {
	start, end int64
}

func (n *timeBasedScalarExec) Execute(*execplan.QuerySession) (model.ResultSchema, *execplan.RangeVectorStream, error) {
	rows := []model.Datapoint{{Timestamp: n.start, Value: float64(n.start) / 1000}, {Timestamp: n.end, Value: float64(n.end) / 1000}}
	stream := execplan.NewRangeVectorStream(1)
	stream.Send(model.RangeVector{Key: model.NewRangeVectorKey(nil), Rows: model.NewSliceIterator(rows)})
	stream.Close(nil)
	return model.ResultSchema{IsTimeSeries: false}, stream, nil
}

func sortDatapoints(rows []model.Datapoint) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].Timestamp > rows[j].Timestamp; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}
