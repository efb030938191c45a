// Package logicalplan implements spec.md §4.6: the tagged-variant query
// plan tree produced by query parsing, consumed by the planner. Grounded
// on query/parser's tagged parser.Params/Node shape, generalized from
// parser output into the node variants spec.md names directly.
package logicalplan

// MatchOp is a label-selector comparison operator.
type MatchOp int

const (
	MatchEqual MatchOp = iota
	MatchNotEqual
	MatchRegexp
	MatchNotRegexp
)

// LabelMatcher is one label selector term, e.g. `app="x"` or
// `app=~"x.*"`.
type LabelMatcher struct {
	Name  string
	Value string
	Op    MatchOp
}

// RangeFunction names a §4.8 range function (rate, increase,
// sum_over_time, ...).
type RangeFunction string

// AggregateOp names a §4.8 aggregator.
type AggregateOp string

const (
	AggSum         AggregateOp = "sum"
	AggAvg         AggregateOp = "avg"
	AggMin         AggregateOp = "min"
	AggMax         AggregateOp = "max"
	AggCount       AggregateOp = "count"
	AggStddev      AggregateOp = "stddev"
	AggStdvar      AggregateOp = "stdvar"
	AggTopK        AggregateOp = "topk"
	AggBottomK     AggregateOp = "bottomk"
	AggQuantile    AggregateOp = "quantile"
	AggCountValues AggregateOp = "count_values"
	AggGroup       AggregateOp = "group"
)

// BinaryOp names an arithmetic/comparison operator for BinaryJoin,
// ScalarVectorBinaryOperation and ScalarBinaryOperation.
type BinaryOp string

const (
	BinaryAdd BinaryOp = "+"
	BinarySub BinaryOp = "-"
	BinaryMul BinaryOp = "*"
	BinaryDiv BinaryOp = "/"
	BinaryMod BinaryOp = "%"
	BinaryPow BinaryOp = "^"
	BinaryEQ  BinaryOp = "=="
	BinaryNE  BinaryOp = "!="
	BinaryGT  BinaryOp = ">"
	BinaryLT  BinaryOp = "<"
	BinaryGE  BinaryOp = ">="
	BinaryLE  BinaryOp = "<="
	BinaryAnd BinaryOp = "and"
	BinaryOr  BinaryOp = "or"
	BinaryUnless BinaryOp = "unless"
)

// Cardinality classifies a BinaryJoin/SetOperator's join shape (spec.md
// §4.7, §4.8).
type Cardinality int

const (
	Cardinality1to1 Cardinality = iota
	Cardinality1toN
	CardinalityNto1
	CardinalityNtoN // set operators only
)

// Node is the common type every logical plan node satisfies. Per spec.md
// §9's design note, dispatch over node variants uses the Visit helper in
// visitor.go rather than a type-switch or dynamic-cast chain at each call
// site.
type Node interface {
	// Children returns this node's child nodes in evaluation order. A nil
	// or empty slice marks a leaf.
	Children() []Node
}

// --- Raw ---

// RawSeries selects raw (undownsampled) rows for series matching
// filters, projecting columns.
type RawSeries struct {
	Dataset    string
	Filters    []LabelMatcher
	Columns    []string
	Start, End int64
}

func (n *RawSeries) Children() []Node { return nil }

// RawChunkMeta selects chunk metadata only (no row data), used for
// metadata-only queries over raw chunks.
type RawChunkMeta struct {
	Dataset    string
	Filters    []LabelMatcher
	Start, End int64
}

func (n *RawChunkMeta) Children() []Node { return nil }

// --- Periodic (stepped) ---

// PeriodicSeries resamples raw's stream at step boundaries in
// [start, end], taking the most recent raw value at or before each step.
type PeriodicSeries struct {
	Raw              Node
	Start, Step, End int64
}

func (n *PeriodicSeries) Children() []Node { return []Node{n.Raw} }

// PeriodicSeriesWithWindowing resamples raw's stream at step boundaries,
// applying rangeFn over the lookback window (t-window, t] at each step.
type PeriodicSeriesWithWindowing struct {
	Raw                     Node
	Start, Step, End, Window int64
	RangeFn                 RangeFunction
	Args                    []float64
}

func (n *PeriodicSeriesWithWindowing) Children() []Node { return []Node{n.Raw} }

// --- Composition ---

// Aggregate reduces inner's series to one series per (by|without) key
// group, per the given AggregateOp.
type Aggregate struct {
	Op      AggregateOp
	Inner   Node
	By      []string // mutually exclusive with Without
	Without []string
	// Param is the aggregator parameter for ops that take one (topk/
	// bottomk's k, quantile's p).
	Param float64
}

func (n *Aggregate) Children() []Node { return []Node{n.Inner} }

// BinaryJoin combines lhs and rhs series pointwise under Op, per the
// join-key rules of spec.md §4.8 (on/ignoring, cardinality, include).
type BinaryJoin struct {
	LHS         Node
	Op          BinaryOp
	Cardinality Cardinality
	RHS         Node
	On          []string // mutually exclusive with Ignoring
	Ignoring    []string
	Include     []string // labels copied from the "one" side in 1:N / N:1
}

func (n *BinaryJoin) Children() []Node { return []Node{n.LHS, n.RHS} }

// ScalarVectorBinaryOperation applies Op between every sample of Vector
// and the (possibly time-varying) Scalar.
type ScalarVectorBinaryOperation struct {
	Scalar       Node
	Vector       Node
	Op           BinaryOp
	ScalarOnLeft bool
}

func (n *ScalarVectorBinaryOperation) Children() []Node { return []Node{n.Scalar, n.Vector} }

// ApplyInstantFunction applies a unary instant function (abs, ceil,
// clamp_*, exp, ln, ...) to each sample of Inner.
type ApplyInstantFunction struct {
	Inner        Node
	FunctionName string
	Args         []float64
}

func (n *ApplyInstantFunction) Children() []Node { return []Node{n.Inner} }

// ApplyMiscellaneousFunction applies a function needing string arguments
// (label_join, label_replace, histogram_quantile's bucket handling, ...).
type ApplyMiscellaneousFunction struct {
	Inner        Node
	FunctionName string
	StringArgs   []string
}

func (n *ApplyMiscellaneousFunction) Children() []Node { return []Node{n.Inner} }

// ApplySortFunction sorts Inner's series by their final value.
type ApplySortFunction struct {
	Inner      Node
	Descending bool
}

func (n *ApplySortFunction) Children() []Node { return []Node{n.Inner} }

// ApplyAbsentFunction emits a single synthetic series (value 1) if Inner
// produces no series, otherwise nothing.
type ApplyAbsentFunction struct {
	Inner   Node
	Columns []string
}

func (n *ApplyAbsentFunction) Children() []Node { return []Node{n.Inner} }

// VectorPlan lifts a scalar plan into a single-series vector.
type VectorPlan struct {
	Scalar Node
}

func (n *VectorPlan) Children() []Node { return []Node{n.Scalar} }

// --- Scalars ---

// ScalarFixedDouble is a constant scalar over [Start, End].
type ScalarFixedDouble struct {
	Value      float64
	Start, End int64
}

func (n *ScalarFixedDouble) Children() []Node { return nil }

// ScalarVaryingDouble is an explicit per-timestamp scalar series (e.g.
// produced by an earlier stage of plan construction).
type ScalarVaryingDouble struct {
	Values     map[int64]float64
	Start, End int64
}

func (n *ScalarVaryingDouble) Children() []Node { return nil }

// ScalarTimeBased emits the query timestamp itself as the scalar value at
// each step (the `time()` function).
type ScalarTimeBased struct {
	Start, End int64
}

func (n *ScalarTimeBased) Children() []Node { return nil }

// ScalarBinaryOperation combines two scalar plans under Op.
type ScalarBinaryOperation struct {
	LHS, RHS Node
	Op       BinaryOp
}

func (n *ScalarBinaryOperation) Children() []Node { return []Node{n.LHS, n.RHS} }

// --- Metadata ---

// LabelValues returns the distinct values of LabelName across series
// matching Filters.
type LabelValues struct {
	Dataset    string
	LabelName  string
	Filters    []LabelMatcher
	Start, End int64
}

func (n *LabelValues) Children() []Node { return nil }

// SeriesKeysByFilters returns the partition keys of series matching
// Filters, with no row data.
type SeriesKeysByFilters struct {
	Dataset    string
	Filters    []LabelMatcher
	Start, End int64
}

func (n *SeriesKeysByFilters) Children() []Node { return nil }

// FindLeaves returns every leaf (a node whose Children() is empty) of the
// tree rooted at root, in left-to-right order (spec.md §4.6
// `LogicalPlan.findLeaves`).
func FindLeaves(root Node) []Node {
	var leaves []Node
	var walk func(Node)
	walk = func(n Node) {
		children := n.Children()
		if len(children) == 0 {
			leaves = append(leaves, n)
			return
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(root)
	return leaves
}
