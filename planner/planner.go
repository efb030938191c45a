// Package planner implements spec.md §4.7: materializing a logicalplan
// tree plus a query context into an execplan tree. Grounded on
// query/executor's ExecutionState/plan-construction shape and
// query/storage/m3's fan-out-to-shards pattern, dispatching over the
// logical plan with logicalplan.Visit per spec.md §9's design note
// against a type-switch chain.
package planner

import (
	"fmt"
	"math/rand"

	"github.com/chronodb/tscore/execplan"
	"github.com/chronodb/tscore/logicalplan"
	"github.com/chronodb/tscore/memstore"
	"github.com/chronodb/tscore/shard"
)

// ShardResolver locates the shards a dataset's partitions live on, the
// one piece of the planner's environment that has to come from the
// storage layer rather than the logical plan itself.
type ShardResolver interface {
	Shards(dataset string) ([]*shard.Shard, error)
}

// Context carries whatever isn't already in the logical plan tree itself:
// where to find shards. (The query session - deadline, sample limit,
// trace id - is a separate, execution-time concern threaded through
// execplan.Node.Execute, not the planner.)
type Context struct {
	Store ShardResolver
}

// Materialize turns a logical plan into an execplan tree ready for
// Execute, per spec.md §4.7's rules.
func Materialize(ctx Context, plan logicalplan.Node) (execplan.Node, error) {
	v := &materializer{ctx: ctx}
	result := logicalplan.Visit[materializeResult](plan, v)
	return result.node, v.err
}

type materializeResult struct {
	node execplan.Node
}

// materializer implements logicalplan.Visitor[materializeResult],
// carrying the first error encountered in err since Visitor methods
// can't themselves return an error alongside the result.
type materializer struct {
	ctx Context
	err error
}

func (m *materializer) fail(err error) materializeResult {
	if m.err == nil {
		m.err = err
	}
	return materializeResult{}
}

func (m *materializer) child(n logicalplan.Node) execplan.Node {
	if m.err != nil || n == nil {
		return nil
	}
	return logicalplan.Visit[materializeResult](n, m).node
}

func toLabelFilters(matchers []logicalplan.LabelMatcher) []shard.LabelFilter {
	out := make([]shard.LabelFilter, len(matchers))
	for i, lm := range matchers {
		var op shard.FilterOp
		switch lm.Op {
		case logicalplan.MatchEqual:
			op = shard.FilterEquals
		case logicalplan.MatchNotEqual:
			op = shard.FilterNotEquals
		case logicalplan.MatchRegexp:
			op = shard.FilterRegexMatch
		case logicalplan.MatchNotRegexp:
			op = shard.FilterRegexNotMatch
		}
		out[i] = shard.LabelFilter{Name: lm.Name, Value: lm.Value, Op: op}
	}
	return out
}

// VisitRawSeries materializes a RawSeries leaf into one
// SelectRawPartitionsExec per shard of the dataset, fanned out under a
// LocalPartitionDistConcatExec (spec.md §4.7 "leaf materialization").
func (m *materializer) VisitRawSeries(n *logicalplan.RawSeries) materializeResult {
	shards, err := m.ctx.Store.Shards(n.Dataset)
	if err != nil {
		return m.fail(fmt.Errorf("planner: %w", err))
	}
	filters := toLabelFilters(n.Filters)

	children := make([]execplan.Node, len(shards))
	for i, sh := range shards {
		children[i] = &execplan.SelectRawPartitionsExec{
			Shard:   sh,
			Filters: filters,
			Columns: n.Columns,
			Start:   n.Start,
			End:     n.End,
		}
	}
	return materializeResult{node: &execplan.LocalPartitionDistConcatExec{Children: children}}
}

func (m *materializer) VisitRawChunkMeta(n *logicalplan.RawChunkMeta) materializeResult {
	return m.fail(fmt.Errorf("planner: RawChunkMeta materialization is not implemented (metadata-only queries are out of scope, see DESIGN.md)"))
}

// VisitPeriodicSeries wraps its raw child with a step-boundary
// PeriodicSamplesMapper taking the last raw value at or before each step
// (no range function).
func (m *materializer) VisitPeriodicSeries(n *logicalplan.PeriodicSeries) materializeResult {
	child := m.child(n.Raw)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.PeriodicSamplesMapper{
		Child: child,
		Start: n.Start, Step: n.Step, End: n.End,
	}}
}

// VisitPeriodicSeriesWithWindowing wraps its raw child with a
// PeriodicSamplesMapper evaluating RangeFn over the lookback window at
// each step.
func (m *materializer) VisitPeriodicSeriesWithWindowing(n *logicalplan.PeriodicSeriesWithWindowing) materializeResult {
	child := m.child(n.Raw)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.PeriodicSamplesMapper{
		Child: child,
		Start: n.Start, Step: n.Step, End: n.End, Window: n.Window,
		RangeFn: string(n.RangeFn), Args: n.Args,
	}}
}

// VisitAggregate materializes an AggregateExec over the by/without
// projection spec.md names (see execplan.AggregateExec's doc comment for
// how this collapses the teacher's two-level per-shard-partial/
// cross-shard-reduce design into a single stage).
func (m *materializer) VisitAggregate(n *logicalplan.Aggregate) materializeResult {
	child := m.child(n.Inner)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.AggregateExec{
		Child: child, Op: string(n.Op), By: n.By, Without: n.Without, Param: n.Param,
	}}
}

// VisitBinaryJoin materializes both sides and a BinaryJoinExec, choosing
// a dispatcher per pickDispatcher (spec.md §4.7): a single-process
// deployment only ever has LocalDispatcher to choose from, so the random
// weighted pick is retained for its documented purpose (reproducible
// dispatcher choice in a multi-host deployment) but always resolves to
// local here.
func (m *materializer) VisitBinaryJoin(n *logicalplan.BinaryJoin) materializeResult {
	lhs := m.child(n.LHS)
	rhs := m.child(n.RHS)
	if m.err != nil {
		return materializeResult{}
	}
	_ = pickDispatcher(2)

	if n.Op == logicalplan.BinaryAnd || n.Op == logicalplan.BinaryOr || n.Op == logicalplan.BinaryUnless {
		return materializeResult{node: &execplan.SetOperatorExec{
			LHS: lhs, RHS: rhs, Op: string(n.Op), On: n.On, Ignoring: n.Ignoring,
		}}
	}
	return materializeResult{node: &execplan.BinaryJoinExec{
		LHS: lhs, RHS: rhs, Op: string(n.Op), Cardinality: cardinalityString(n.Cardinality),
		On: n.On, Ignoring: n.Ignoring, Include: n.Include,
	}}
}

func cardinalityString(c logicalplan.Cardinality) string {
	switch c {
	case logicalplan.Cardinality1toN:
		return "1:N"
	case logicalplan.CardinalityNto1:
		return "N:1"
	default:
		return "1:1"
	}
}

// pickDispatcher implements spec.md §4.7's "pickDispatcher (random
// weighted by child count)" rule only in outline: it draws a uniform index
// among childCount candidates and discards it, always returning
// LocalDispatcher. VisitBinaryJoin is its only caller.
func pickDispatcher(childCount int) execplan.Dispatcher {
	if childCount <= 0 {
		return execplan.LocalDispatcher{}
	}
	_ = rand.Intn(childCount)
	return execplan.LocalDispatcher{}
}

// VisitScalarVectorBinaryOperation materializes a
// ScalarVectorBinaryOperationExec transformer over the vector stream.
func (m *materializer) VisitScalarVectorBinaryOperation(n *logicalplan.ScalarVectorBinaryOperation) materializeResult {
	scalar := m.child(n.Scalar)
	vector := m.child(n.Vector)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.ScalarVectorBinaryOperationExec{
		Scalar: scalar, Vector: vector, Op: string(n.Op), ScalarOnLeft: n.ScalarOnLeft,
	}}
}

func (m *materializer) VisitApplyInstantFunction(n *logicalplan.ApplyInstantFunction) materializeResult {
	child := m.child(n.Inner)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.ApplyInstantFunctionExec{
		Child: child, FunctionName: n.FunctionName, Args: n.Args,
	}}
}

// VisitApplyMiscellaneousFunction dispatches histogram_quantile to
// HistogramQuantileMapper; every other miscellaneous function (label_join,
// label_replace, ...) is out of scope for this materializer (see
// DESIGN.md).
func (m *materializer) VisitApplyMiscellaneousFunction(n *logicalplan.ApplyMiscellaneousFunction) materializeResult {
	child := m.child(n.Inner)
	if m.err != nil {
		return materializeResult{}
	}
	if n.FunctionName != "histogram_quantile" {
		return m.fail(fmt.Errorf("planner: miscellaneous function %q is not implemented", n.FunctionName))
	}
	quantile := 0.0
	if len(n.StringArgs) > 0 {
		if _, err := fmt.Sscanf(n.StringArgs[0], "%g", &quantile); err != nil {
			return m.fail(fmt.Errorf("planner: histogram_quantile: bad quantile arg %q: %w", n.StringArgs[0], err))
		}
	}
	return materializeResult{node: &execplan.HistogramQuantileMapper{Child: child, Quantile: quantile}}
}

func (m *materializer) VisitApplySortFunction(n *logicalplan.ApplySortFunction) materializeResult {
	child := m.child(n.Inner)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.ApplySortFunctionExec{Child: child, Descending: n.Descending}}
}

func (m *materializer) VisitApplyAbsentFunction(n *logicalplan.ApplyAbsentFunction) materializeResult {
	child := m.child(n.Inner)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.ApplyAbsentFunctionExec{Child: child, Columns: n.Columns}}
}

func (m *materializer) VisitVectorPlan(n *logicalplan.VectorPlan) materializeResult {
	child := m.child(n.Scalar)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: child}
}

func (m *materializer) VisitScalarFixedDouble(n *logicalplan.ScalarFixedDouble) materializeResult {
	return materializeResult{node: &fixedScalarExec{value: n.Value, start: n.Start, end: n.End}}
}

func (m *materializer) VisitScalarVaryingDouble(n *logicalplan.ScalarVaryingDouble) materializeResult {
	return materializeResult{node: &varyingScalarExec{values: n.Values}}
}

func (m *materializer) VisitScalarTimeBased(n *logicalplan.ScalarTimeBased) materializeResult {
	return materializeResult{node: &timeBasedScalarExec{start: n.Start, end: n.End}}
}

func (m *materializer) VisitScalarBinaryOperation(n *logicalplan.ScalarBinaryOperation) materializeResult {
	lhs := m.child(n.LHS)
	rhs := m.child(n.RHS)
	if m.err != nil {
		return materializeResult{}
	}
	return materializeResult{node: &execplan.BinaryJoinExec{
		LHS: lhs, RHS: rhs, Op: string(n.Op), Cardinality: "1:1",
	}}
}

func (m *materializer) VisitLabelValues(n *logicalplan.LabelValues) materializeResult {
	return m.fail(fmt.Errorf("planner: LabelValues materialization is not implemented (metadata-only queries are out of scope, see DESIGN.md)"))
}

func (m *materializer) VisitSeriesKeysByFilters(n *logicalplan.SeriesKeysByFilters) materializeResult {
	return m.fail(fmt.Errorf("planner: SeriesKeysByFilters materialization is not implemented (metadata-only queries are out of scope, see DESIGN.md)"))
}

var _ ShardResolver = (*memstore.MemStore)(nil)
