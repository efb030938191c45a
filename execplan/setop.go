package execplan

import (
	"fmt"
	"math"

	"github.com/chronodb/tscore/model"
)

// SetOperatorExec implements the AND/OR/UNLESS set operators of spec.md
// §4.8: AND returns lhs rows with values masked to NaN where rhs has no
// sample at that timestamp for the matching join key; OR returns lhs
// series plus any rhs series whose join key lhs didn't have at all;
// UNLESS returns lhs series whose join key has no match in rhs. Both
// sides are fully buffered first, the same buffering point BinaryJoinExec
// uses.
type SetOperatorExec struct {
	LHS, RHS Node
	Op       string // "and", "or", "unless"
	On       []string
	Ignoring []string
}

func (n *SetOperatorExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
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
		return model.ResultSchema{}, nil, fmt.Errorf("set operator(%s): %w", n.Op, err)
	}
	rhsRVs, err := Collect(session, rhsStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("set operator(%s): %w", n.Op, err)
	}

	rhsByJoinKey := map[string][]model.RangeVector{}
	for _, rv := range rhsRVs {
		jk := n.joinKey(rv.Key)
		rhsByJoinKey[jk] = append(rhsByJoinKey[jk], rv)
	}
	lhsJoinKeys := map[string]bool{}
	for _, rv := range lhsRVs {
		lhsJoinKeys[n.joinKey(rv.Key)] = true
	}

	out := NewRangeVectorStream(0)
	go func() {
		var outErr error
		switch n.Op {
		case "and":
			outErr = n.emitAnd(out, lhsRVs, rhsByJoinKey)
		case "unless":
			outErr = n.emitUnless(out, lhsRVs, rhsByJoinKey)
		case "or":
			outErr = n.emitOr(out, lhsRVs, rhsRVs, lhsJoinKeys)
		default:
			outErr = fmt.Errorf("set operator: unknown op %q", n.Op)
		}
		out.Close(outErr)
	}()

	return lhsSchema, out, nil
}

func (n *SetOperatorExec) joinKey(key model.RangeVectorKey) string {
	if len(n.On) > 0 {
		return key.Project(n.On, false).Signature()
	}
	if len(n.Ignoring) > 0 {
		return key.Project(n.Ignoring, true).Signature()
	}
	return key.Signature()
}

func (n *SetOperatorExec) emitAnd(out *RangeVectorStream, lhsRVs []model.RangeVector, rhsByJoinKey map[string][]model.RangeVector) error {
	for _, lhs := range lhsRVs {
		matches := rhsByJoinKey[n.joinKey(lhs.Key)]
		if len(matches) == 0 {
			continue
		}
		rhsTS := map[int64]bool{}
		for _, rhs := range matches {
			rows, err := model.Drain(rhs.Rows)
			if err != nil {
				return err
			}
			for _, dp := range rows {
				rhsTS[dp.Timestamp] = true
			}
		}
		lhsRows, err := model.Drain(lhs.Rows)
		if err != nil {
			return err
		}
		rows := make([]model.Datapoint, 0, len(lhsRows))
		for _, dp := range lhsRows {
			if !rhsTS[dp.Timestamp] {
				dp.Value = math.NaN()
			}
			rows = append(rows, dp)
		}
		out.Send(model.RangeVector{Key: lhs.Key, Rows: model.NewSliceIterator(rows)})
	}
	return nil
}

func (n *SetOperatorExec) emitUnless(out *RangeVectorStream, lhsRVs []model.RangeVector, rhsByJoinKey map[string][]model.RangeVector) error {
	for _, lhs := range lhsRVs {
		if len(rhsByJoinKey[n.joinKey(lhs.Key)]) > 0 {
			continue
		}
		out.Send(lhs)
	}
	return nil
}

func (n *SetOperatorExec) emitOr(out *RangeVectorStream, lhsRVs, rhsRVs []model.RangeVector, lhsJoinKeys map[string]bool) error {
	for _, lhs := range lhsRVs {
		out.Send(lhs)
	}
	for _, rhs := range rhsRVs {
		if lhsJoinKeys[n.joinKey(rhs.Key)] {
			continue
		}
		out.Send(rhs)
	}
	return nil
}
