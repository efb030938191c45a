package execplan

import (
	"fmt"
	"math"

	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/tserrors"
)

// BinaryJoinExec pairs LHS and RHS series by join key and combines their
// aligned-timestamp samples under Op, per spec.md §4.8's on/ignoring,
// cardinality and include rules. Both sides are buffered and indexed by
// join key before pairing - the same intentional buffering point spec.md
// §9 allows for join/set-operator nodes, since a join cannot stream past
// the point where a RHS match might still arrive.
type BinaryJoinExec struct {
	LHS, RHS    Node
	Op          string
	Cardinality string // "1:1", "1:N", "N:1"
	On          []string
	Ignoring    []string
	Include     []string
}

func (n *BinaryJoinExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	lhsSchema, lhsStream, err := n.LHS.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}
	_, rhsStream, err := n.RHS.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}

	lhsRVs, err := Collect(session, lhsStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("binary join: %w", err)
	}
	rhsRVs, err := Collect(session, rhsStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("binary join: %w", err)
	}

	rhsByJoinKey := map[string][]model.RangeVector{}
	for _, rv := range rhsRVs {
		jk := n.joinKey(rv.Key)
		rhsByJoinKey[jk] = append(rhsByJoinKey[jk], rv)
	}

	out := NewRangeVectorStream(0)
	go func() {
		var outErr error
		for _, lhsRV := range lhsRVs {
			jk := n.joinKey(lhsRV.Key)
			matches := rhsByJoinKey[jk]
			if n.Cardinality == "1:1" {
				if len(matches) > 1 {
					outErr = fmt.Errorf("binary join: %w: duplicate join key on the right side", tserrors.ErrBadQuery)
					break
				}
				if len(matches) == 0 {
					continue
				}
				rv, err := n.combine(lhsRV, matches[0], false)
				if err != nil {
					outErr = err
					break
				}
				if err := session.AddSamples(1); err != nil {
					outErr = err
					break
				}
				out.Send(rv)
				continue
			}
			if n.Cardinality == "N:1" {
				if len(matches) == 0 {
					continue
				}
				// LHS is the "many" side here: each lhsRV already has its own
				// identity, and N:1 allows at most one RHS match per key, so the
				// base key is unambiguously lhs's.
				rv, err := n.combine(lhsRV, matches[0], false)
				if err != nil {
					outErr = err
					break
				}
				if err := session.AddSamples(1); err != nil {
					outErr = err
					break
				}
				out.Send(rv)
				continue
			}
			// "1:N": the one LHS side pairs against every matching RHS series.
			// RHS is the "many" side, so each pairing's identity must come from
			// its own rhsRV or every pairing for this lhsRV collapses onto the
			// same output key.
			for _, rhsRV := range matches {
				rv, err := n.combine(lhsRV, rhsRV, true)
				if err != nil {
					outErr = err
					break
				}
				if err := session.AddSamples(1); err != nil {
					outErr = err
					break
				}
				out.Send(rv)
			}
		}
		out.Close(outErr)
	}()

	return lhsSchema, out, nil
}

func (n *BinaryJoinExec) joinKey(key model.RangeVectorKey) string {
	if len(n.On) > 0 {
		return key.Project(n.On, false).Signature()
	}
	if len(n.Ignoring) > 0 {
		return key.Project(n.Ignoring, true).Signature()
	}
	return key.Signature()
}

// combine pairs lhs and rhs's aligned-timestamp samples under n.Op. The
// output key's base labels come from the "many" side of the join -
// rhsIsBase is true for "1:N" (RHS is many) and false for "1:1"/"N:1"
// (LHS is many, or either side for a unique 1:1 match) - with Include
// always merging the "one" side's labels onto that base (spec.md §4.8:
// "merge in the include labels from the one side onto each result").
func (n *BinaryJoinExec) combine(lhs, rhs model.RangeVector, rhsIsBase bool) (model.RangeVector, error) {
	lhsRows, err := model.Drain(lhs.Rows)
	if err != nil {
		return model.RangeVector{}, err
	}
	rhsRows, err := model.Drain(rhs.Rows)
	if err != nil {
		return model.RangeVector{}, err
	}
	rhsByTS := make(map[int64]float64, len(rhsRows))
	for _, dp := range rhsRows {
		rhsByTS[dp.Timestamp] = dp.Value
	}

	op, err := binaryOpFunc(n.Op)
	if err != nil {
		return model.RangeVector{}, err
	}

	base, one := lhs, rhs
	if rhsIsBase {
		base, one = rhs, lhs
	}
	outKey := base.Key
	if len(n.Include) > 0 {
		m := base.Key.Map()
		om := one.Key.Map()
		for _, l := range n.Include {
			if v, ok := om[l]; ok {
				m[l] = v
			}
		}
		outKey = model.NewRangeVectorKey(m)
	}

	rows := make([]model.Datapoint, 0, len(lhsRows))
	for _, dp := range lhsRows {
		rv, ok := rhsByTS[dp.Timestamp]
		if !ok {
			continue
		}
		rows = append(rows, model.Datapoint{Timestamp: dp.Timestamp, Value: op(dp.Value, rv)})
	}
	return model.RangeVector{Key: outKey, Rows: model.NewSliceIterator(rows)}, nil
}

func binaryOpFunc(op string) (func(l, r float64) float64, error) {
	switch op {
	case "+":
		return func(l, r float64) float64 { return l + r }, nil
	case "-":
		return func(l, r float64) float64 { return l - r }, nil
	case "*":
		return func(l, r float64) float64 { return l * r }, nil
	case "/":
		return func(l, r float64) float64 { return l / r }, nil
	case "%":
		return math.Mod, nil
	case "^":
		return math.Pow, nil
	case "==":
		return boolOp(func(l, r float64) bool { return l == r }), nil
	case "!=":
		return boolOp(func(l, r float64) bool { return l != r }), nil
	case ">":
		return boolOp(func(l, r float64) bool { return l > r }), nil
	case "<":
		return boolOp(func(l, r float64) bool { return l < r }), nil
	case ">=":
		return boolOp(func(l, r float64) bool { return l >= r }), nil
	case "<=":
		return boolOp(func(l, r float64) bool { return l <= r }), nil
	default:
		return nil, fmt.Errorf("binary join: unknown operator %q", op)
	}
}

func boolOp(cmp func(l, r float64) bool) func(l, r float64) float64 {
	return func(l, r float64) float64 {
		if cmp(l, r) {
			return 1
		}
		return 0
	}
}
