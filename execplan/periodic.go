package execplan

import (
	"fmt"
	"math"

	"github.com/chronodb/tscore/execplan/transform"
	"github.com/chronodb/tscore/model"
)

// PeriodicSamplesMapper resamples its child's raw stream onto step
// boundaries in [Start, End]. With RangeFn empty it takes the most recent
// raw sample at or before each step (PeriodicSeries); with RangeFn set it
// instead evaluates that range function over the lookback window
// (t-Window, t] at each step (PeriodicSeriesWithWindowing), per spec.md
// §4.6/§4.8.
type PeriodicSamplesMapper struct {
	Child                    Node
	Start, Step, End, Window int64
	RangeFn                  string
	Args                     []float64
}

func (n *PeriodicSamplesMapper) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	schema, childStream, err := n.Child.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}
	schema = schema.Clone()
	schema.FixedStepMillis = n.Step

	var windowFn transform.WindowFunc
	if n.RangeFn != "" {
		if n.RangeFn == "quantile_over_time" {
			if len(n.Args) < 1 {
				return model.ResultSchema{}, nil, fmt.Errorf("periodic samples mapper: quantile_over_time requires one arg")
			}
			windowFn = transform.QuantileOverTime(n.Args[0])
		} else {
			fn, ok := transform.Registry[n.RangeFn]
			if !ok {
				return model.ResultSchema{}, nil, fmt.Errorf("periodic samples mapper: unknown range function %q", n.RangeFn)
			}
			windowFn = fn
		}
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
			stepped := n.resample(rows, windowFn)
			if err := session.AddSamples(int64(len(stepped))); err != nil {
				outErr = err
				break
			}
			out.Send(model.RangeVector{Key: rv.Key, Rows: model.NewSliceIterator(stepped)})
		}
		if outErr == nil {
			outErr = childStream.Err()
		}
		out.Close(outErr)
	}()

	return schema, out, nil
}

// resample walks rows once, advancing a pointer as it visits each step in
// order - O(len(rows) + steps) total rather than O(steps * log(len(rows)))
// since both sequences are already timestamp-sorted.
func (n *PeriodicSamplesMapper) resample(rows []model.Datapoint, windowFn transform.WindowFunc) []model.Datapoint {
	var out []model.Datapoint
	pos := 0
	for t := n.Start; t <= n.End; t += n.Step {
		if n.RangeFn == "" {
			for pos < len(rows) && rows[pos].Timestamp <= t {
				pos++
			}
			if pos == 0 {
				continue
			}
			out = append(out, model.Datapoint{Timestamp: t, Value: rows[pos-1].Value})
			continue
		}

		lo := t - n.Window
		start := pos
		for start < len(rows) && rows[start].Timestamp <= lo {
			start++
		}
		end := start
		for end < len(rows) && rows[end].Timestamp <= t {
			end++
		}
		pos = start
		v := windowFn(rows[start:end])
		if math.IsNaN(v) {
			continue
		}
		out = append(out, model.Datapoint{Timestamp: t, Value: v})
	}
	return out
}
