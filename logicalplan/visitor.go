package logicalplan

// Visitor dispatches on a logical plan node's concrete type, replacing
// the dynamic-cast chain a naive `switch n := n.(type)` at every call
// site would otherwise require (spec.md §9 design note). Implement it
// once per concern (materialization, pretty-printing, cost estimation)
// and call Visit to dispatch.
type Visitor[R any] interface {
	VisitRawSeries(*RawSeries) R
	VisitRawChunkMeta(*RawChunkMeta) R
	VisitPeriodicSeries(*PeriodicSeries) R
	VisitPeriodicSeriesWithWindowing(*PeriodicSeriesWithWindowing) R
	VisitAggregate(*Aggregate) R
	VisitBinaryJoin(*BinaryJoin) R
	VisitScalarVectorBinaryOperation(*ScalarVectorBinaryOperation) R
	VisitApplyInstantFunction(*ApplyInstantFunction) R
	VisitApplyMiscellaneousFunction(*ApplyMiscellaneousFunction) R
	VisitApplySortFunction(*ApplySortFunction) R
	VisitApplyAbsentFunction(*ApplyAbsentFunction) R
	VisitVectorPlan(*VectorPlan) R
	VisitScalarFixedDouble(*ScalarFixedDouble) R
	VisitScalarVaryingDouble(*ScalarVaryingDouble) R
	VisitScalarTimeBased(*ScalarTimeBased) R
	VisitScalarBinaryOperation(*ScalarBinaryOperation) R
	VisitLabelValues(*LabelValues) R
	VisitSeriesKeysByFilters(*SeriesKeysByFilters) R
}

// Visit dispatches n to the matching Visitor method. Panics on an unknown
// node type, which can only happen if a new Node implementation is added
// to this package without a matching Visitor method - a programmer error
// caught immediately rather than silently mishandled.
func Visit[R any](n Node, v Visitor[R]) R {
	switch t := n.(type) {
	case *RawSeries:
		return v.VisitRawSeries(t)
	case *RawChunkMeta:
		return v.VisitRawChunkMeta(t)
	case *PeriodicSeries:
		return v.VisitPeriodicSeries(t)
	case *PeriodicSeriesWithWindowing:
		return v.VisitPeriodicSeriesWithWindowing(t)
	case *Aggregate:
		return v.VisitAggregate(t)
	case *BinaryJoin:
		return v.VisitBinaryJoin(t)
	case *ScalarVectorBinaryOperation:
		return v.VisitScalarVectorBinaryOperation(t)
	case *ApplyInstantFunction:
		return v.VisitApplyInstantFunction(t)
	case *ApplyMiscellaneousFunction:
		return v.VisitApplyMiscellaneousFunction(t)
	case *ApplySortFunction:
		return v.VisitApplySortFunction(t)
	case *ApplyAbsentFunction:
		return v.VisitApplyAbsentFunction(t)
	case *VectorPlan:
		return v.VisitVectorPlan(t)
	case *ScalarFixedDouble:
		return v.VisitScalarFixedDouble(t)
	case *ScalarVaryingDouble:
		return v.VisitScalarVaryingDouble(t)
	case *ScalarTimeBased:
		return v.VisitScalarTimeBased(t)
	case *ScalarBinaryOperation:
		return v.VisitScalarBinaryOperation(t)
	case *LabelValues:
		return v.VisitLabelValues(t)
	case *SeriesKeysByFilters:
		return v.VisitSeriesKeysByFilters(t)
	default:
		panic("logicalplan: Visit: unhandled node type")
	}
}
