package model

// ResultSchema travels alongside a RangeVector stream: the column list,
// whether rows are keyed by time series (vs. a bare scalar/label result),
// and whether values are double-or-histogram typed.
type ResultSchema struct {
	Columns        []Column
	IsTimeSeries   bool
	IsHistogram    bool
	FixedStepMillis int64 // 0 for raw/unstepped results
}

// Clone returns a deep-enough copy safe to mutate independently (columns
// reslice on append without aliasing the original backing array).
func (r ResultSchema) Clone() ResultSchema {
	cols := make([]Column, len(r.Columns))
	copy(cols, r.Columns)
	r.Columns = cols
	return r
}
