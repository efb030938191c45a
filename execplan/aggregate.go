package execplan

import (
	"fmt"
	"math"
	"sort"

	"github.com/chronodb/tscore/model"
)

// AggregateExec reduces its child's series to one series per by/without
// projection group, per spec.md §4.7/§4.8. Pointwise reducers (sum, avg,
// min, max, count, stddev, stdvar, quantile, group) combine aligned
// timestamps across a group's member series into one output series;
// topk/bottomk instead select whole member series by their final value;
// count_values buckets by distinct value rather than by timestamp. This
// collapses the teacher's two-level per-shard-partial-then-cross-shard
// design into a single reduction stage, since a single exec-plan tree
// here already spans every shard via LocalPartitionDistConcatExec (see
// DESIGN.md).
type AggregateExec struct {
	Child   Node
	Op      string
	By      []string
	Without []string
	Param   float64 // topk/bottomk's k (truncated), quantile's p
}

func (n *AggregateExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	schema, childStream, err := n.Child.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}

	rvs, err := Collect(session, childStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("aggregate(%s): %w", n.Op, err)
	}

	groups := map[string][]model.RangeVector{}
	groupKey := map[string]model.RangeVectorKey{}
	for _, rv := range rvs {
		proj := n.project(rv.Key)
		sig := proj.Signature()
		groups[sig] = append(groups[sig], rv)
		groupKey[sig] = proj
	}

	out := NewRangeVectorStream(0)
	go func() {
		var outErr error
		switch n.Op {
		case "topk", "bottomk":
			outErr = n.emitTopBottomK(out, groups, groupKey)
		case "count_values":
			outErr = n.emitCountValues(out, groups, groupKey)
		default:
			outErr = n.emitPointwise(session, out, groups, groupKey)
		}
		out.Close(outErr)
	}()

	return schema, out, nil
}

func (n *AggregateExec) project(key model.RangeVectorKey) model.RangeVectorKey {
	if len(n.By) > 0 {
		return key.Project(n.By, false)
	}
	if len(n.Without) > 0 {
		return key.Project(n.Without, true)
	}
	return model.NewRangeVectorKey(nil)
}

func (n *AggregateExec) emitPointwise(session *QuerySession, out *RangeVectorStream, groups map[string][]model.RangeVector, groupKey map[string]model.RangeVectorKey) error {
	reduce, err := pointwiseReducer(n.Op, n.Param)
	if err != nil {
		return err
	}

	for sig, members := range groups {
		perTS := map[int64][]float64{}
		var order []int64
		for _, rv := range members {
			rows, err := model.Drain(rv.Rows)
			if err != nil {
				return err
			}
			for _, dp := range rows {
				if _, seen := perTS[dp.Timestamp]; !seen {
					order = append(order, dp.Timestamp)
				}
				perTS[dp.Timestamp] = append(perTS[dp.Timestamp], dp.Value)
			}
		}
		sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

		rows := make([]model.Datapoint, 0, len(order))
		for _, ts := range order {
			v := reduce(perTS[ts])
			if math.IsNaN(v) {
				continue
			}
			rows = append(rows, model.Datapoint{Timestamp: ts, Value: v})
		}
		if err := session.AddSamples(int64(len(rows))); err != nil {
			return err
		}
		out.Send(model.RangeVector{Key: groupKey[sig], Rows: model.NewSliceIterator(rows)})
	}
	return nil
}

// pointwiseReducer returns a function collapsing one timestamp's sibling
// values into the aggregate's output value.
func pointwiseReducer(op string, param float64) (func([]float64) float64, error) {
	switch op {
	case "sum":
		return func(vs []float64) float64 {
			var s float64
			for _, v := range vs {
				s += v
			}
			return s
		}, nil
	case "avg":
		return func(vs []float64) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			var s float64
			for _, v := range vs {
				s += v
			}
			return s / float64(len(vs))
		}, nil
	case "min":
		return func(vs []float64) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			m := vs[0]
			for _, v := range vs[1:] {
				if v < m {
					m = v
				}
			}
			return m
		}, nil
	case "max":
		return func(vs []float64) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			m := vs[0]
			for _, v := range vs[1:] {
				if v > m {
					m = v
				}
			}
			return m
		}, nil
	case "count":
		return func(vs []float64) float64 { return float64(len(vs)) }, nil
	case "group":
		return func(vs []float64) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			return 1
		}, nil
	case "stddev":
		return func(vs []float64) float64 { return math.Sqrt(welfordVariance(vs)) }, nil
	case "stdvar":
		return func(vs []float64) float64 { return welfordVariance(vs) }, nil
	case "quantile":
		return func(vs []float64) float64 { return quantileOf(param, vs) }, nil
	default:
		return nil, fmt.Errorf("aggregate: unknown pointwise op %q", op)
	}
}

func welfordVariance(vs []float64) float64 {
	if len(vs) == 0 {
		return math.NaN()
	}
	var mean, m2 float64
	for i, v := range vs {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	return m2 / float64(len(vs))
}

func quantileOf(p float64, vs []float64) float64 {
	if len(vs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// emitTopBottomK selects, within each by/without group, the k member
// series with the highest (topk) or lowest (bottomk) final sample value,
// emitting them unchanged - each group is fully sorted and its first k
// members taken, since groups are already fully buffered here.
func (n *AggregateExec) emitTopBottomK(out *RangeVectorStream, groups map[string][]model.RangeVector, _ map[string]model.RangeVectorKey) error {
	k := int(n.Param)
	if k <= 0 {
		return nil
	}
	for _, members := range groups {
		type scored struct {
			rv   model.RangeVector
			last float64
		}
		scoredMembers := make([]scored, 0, len(members))
		for _, rv := range members {
			rows, err := model.Drain(rv.Rows)
			if err != nil {
				return err
			}
			last := math.NaN()
			if len(rows) > 0 {
				last = rows[len(rows)-1].Value
			}
			scoredMembers = append(scoredMembers, scored{rv: model.RangeVector{Key: rv.Key, Rows: model.NewSliceIterator(rows)}, last: last})
		}
		sort.Slice(scoredMembers, func(i, j int) bool {
			if n.Op == "topk" {
				return scoredMembers[i].last > scoredMembers[j].last
			}
			return scoredMembers[i].last < scoredMembers[j].last
		})
		limit := k
		if limit > len(scoredMembers) {
			limit = len(scoredMembers)
		}
		for i := 0; i < limit; i++ {
			out.Send(scoredMembers[i].rv)
		}
	}
	return nil
}

// emitCountValues buckets each group's samples by their distinct value
// rather than by timestamp, emitting one synthetic series per distinct
// value labeled n.By's label (spec.md's `count_values(label, inner)`).
func (n *AggregateExec) emitCountValues(out *RangeVectorStream, groups map[string][]model.RangeVector, groupKey map[string]model.RangeVectorKey) error {
	if len(n.By) != 1 {
		return fmt.Errorf("aggregate: count_values requires exactly one label name")
	}
	label := n.By[0]
	for sig, members := range groups {
		counts := map[float64]int64{}
		var order []float64
		for _, rv := range members {
			rows, err := model.Drain(rv.Rows)
			if err != nil {
				return err
			}
			for _, dp := range rows {
				if _, seen := counts[dp.Value]; !seen {
					order = append(order, dp.Value)
				}
				counts[dp.Value]++
			}
		}
		base := groupKey[sig].Map()
		for _, v := range order {
			m := make(map[string]string, len(base)+1)
			for k, val := range base {
				m[k] = val
			}
			m[label] = fmt.Sprintf("%g", v)
			out.Send(model.RangeVector{
				Key:  model.NewRangeVectorKey(m),
				Rows: model.NewSliceIterator([]model.Datapoint{{Value: float64(counts[v])}}),
			})
		}
	}
	return nil
}
