package execplan

import (
	"fmt"
	"math"
	"sort"

	"github.com/chronodb/tscore/model"
)

// instantFuncs are the unary per-sample functions ApplyInstantFunctionExec
// dispatches by name (spec.md §4.8 ApplyInstantFunction).
var instantFuncs = map[string]func(v float64, args []float64) float64{
	"abs":   func(v float64, _ []float64) float64 { return math.Abs(v) },
	"ceil":  func(v float64, _ []float64) float64 { return math.Ceil(v) },
	"floor": func(v float64, _ []float64) float64 { return math.Floor(v) },
	"round": func(v float64, _ []float64) float64 { return math.Round(v) },
	"exp":   func(v float64, _ []float64) float64 { return math.Exp(v) },
	"ln":    func(v float64, _ []float64) float64 { return math.Log(v) },
	"log2":  func(v float64, _ []float64) float64 { return math.Log2(v) },
	"log10": func(v float64, _ []float64) float64 { return math.Log10(v) },
	"sqrt":  func(v float64, _ []float64) float64 { return math.Sqrt(v) },
	"clamp_min": func(v float64, args []float64) float64 {
		if len(args) > 0 && v < args[0] {
			return args[0]
		}
		return v
	},
	"clamp_max": func(v float64, args []float64) float64 {
		if len(args) > 0 && v > args[0] {
			return args[0]
		}
		return v
	},
}

// ApplyInstantFunctionExec maps instantFuncs[FunctionName] over every
// sample of Child, row by row, with no buffering needed.
type ApplyInstantFunctionExec struct {
	Child        Node
	FunctionName string
	Args         []float64
}

func (n *ApplyInstantFunctionExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	fn, ok := instantFuncs[n.FunctionName]
	if !ok {
		return model.ResultSchema{}, nil, fmt.Errorf("apply instant function: unknown function %q", n.FunctionName)
	}
	schema, childStream, err := n.Child.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}

	out := NewRangeVectorStream(0)
	go func() {
		var outErr error
		for rv := range childStream.Chan() {
			if err := session.CheckDeadline(); err != nil {
				outErr = err
				break
			}
			rows, err := model.Drain(rv.Rows)
			if err != nil {
				outErr = err
				break
			}
			for i := range rows {
				rows[i].Value = fn(rows[i].Value, n.Args)
			}
			out.Send(model.RangeVector{Key: rv.Key, Rows: model.NewSliceIterator(rows)})
		}
		if outErr == nil {
			outErr = childStream.Err()
		}
		out.Close(outErr)
	}()

	return schema, out, nil
}

// ApplySortFunctionExec buffers Child's entire output and reorders series
// by their final sample's value (spec.md §9 names sort as an intended
// buffering point - the whole point of a sort is to see every series
// first).
type ApplySortFunctionExec struct {
	Child      Node
	Descending bool
}

func (n *ApplySortFunctionExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	schema, childStream, err := n.Child.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}
	rvs, err := Collect(session, childStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("apply sort function: %w", err)
	}

	type scored struct {
		rv   model.RangeVector
		last float64
	}
	scoredRVs := make([]scored, 0, len(rvs))
	for _, rv := range rvs {
		rows, err := model.Drain(rv.Rows)
		if err != nil {
			return model.ResultSchema{}, nil, err
		}
		last := math.NaN()
		if len(rows) > 0 {
			last = rows[len(rows)-1].Value
		}
		scoredRVs = append(scoredRVs, scored{rv: model.RangeVector{Key: rv.Key, Rows: model.NewSliceIterator(rows)}, last: last})
	}
	sort.SliceStable(scoredRVs, func(i, j int) bool {
		if n.Descending {
			return scoredRVs[i].last > scoredRVs[j].last
		}
		return scoredRVs[i].last < scoredRVs[j].last
	})

	out := NewRangeVectorStream(len(scoredRVs))
	for _, s := range scoredRVs {
		out.Send(s.rv)
	}
	out.Close(nil)
	return schema, out, nil
}

// ApplyAbsentFunctionExec emits a single synthetic series of value 1 if
// Child produces no series at all, otherwise nothing - spec.md §9's other
// named intentional buffering point (you cannot know Child is empty
// without having asked it for at least one item).
type ApplyAbsentFunctionExec struct {
	Child   Node
	Columns []string
	Labels  map[string]string
}

func (n *ApplyAbsentFunctionExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	schema, childStream, err := n.Child.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}
	rvs, err := Collect(session, childStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("apply absent function: %w", err)
	}

	out := NewRangeVectorStream(1)
	if len(rvs) == 0 {
		out.Send(model.RangeVector{
			Key:  model.NewRangeVectorKey(n.Labels),
			Rows: model.NewSliceIterator([]model.Datapoint{{Value: 1}}),
		})
	}
	out.Close(nil)
	return schema, out, nil
}

// ScalarVectorBinaryOperationExec applies Op between a scalar plan's
// varying value at each timestamp and every sample of Vector at that same
// timestamp.
type ScalarVectorBinaryOperationExec struct {
	Scalar       Node
	Vector       Node
	Op           string
	ScalarOnLeft bool
}

func (n *ScalarVectorBinaryOperationExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	_, scalarStream, err := n.Scalar.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}
	scalarRVs, err := Collect(session, scalarStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("scalar vector binary op: %w", err)
	}
	scalarByTS := map[int64]float64{}
	for _, rv := range scalarRVs {
		rows, err := model.Drain(rv.Rows)
		if err != nil {
			return model.ResultSchema{}, nil, err
		}
		for _, dp := range rows {
			scalarByTS[dp.Timestamp] = dp.Value
		}
	}

	schema, vectorStream, err := n.Vector.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}

	op, err := binaryOpFunc(n.Op)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}

	out := NewRangeVectorStream(0)
	go func() {
		var outErr error
		for rv := range vectorStream.Chan() {
			if err := session.CheckDeadline(); err != nil {
				outErr = err
				break
			}
			rows, err := model.Drain(rv.Rows)
			if err != nil {
				outErr = err
				break
			}
			for i, dp := range rows {
				s, ok := scalarByTS[dp.Timestamp]
				if !ok {
					continue
				}
				if n.ScalarOnLeft {
					rows[i].Value = op(s, dp.Value)
				} else {
					rows[i].Value = op(dp.Value, s)
				}
			}
			out.Send(model.RangeVector{Key: rv.Key, Rows: model.NewSliceIterator(rows)})
		}
		if outErr == nil {
			outErr = vectorStream.Err()
		}
		out.Close(outErr)
	}()

	return schema, out, nil
}
