// Package downsample implements spec.md §4.5: the deterministic,
// idempotent batch job that reads raw chunks, marks downsample periods,
// and applies per-column downsamplers to emit lower-resolution chunks.
// Grounded on aggregator/aggregator's batch/rollup job shape and
// query/graphite/native's consolidation functions for the per-column
// aggregator semantics.
package downsample

import "github.com/chronodb/tscore/chunk"

// floorDiv is integer floor division (Go's `/` truncates toward zero,
// which is wrong for negative startTime-1 values at the period boundary
// formula below).
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// DefaultPeriodEnds computes the row indices that terminate each
// downsample period for a chunk, per spec.md §4.5 step 1: for resolution
// R, period k ends at the greatest row whose timestamp <=
// (floor((startTime-1)/R)+1+k)*R - inclusive on the right boundary, so a
// sample at exactly t=kR belongs to period k, not k+1.
//
// The returned slice is the set of row indices; consecutive entries
// partition [0, len(ts)-1] into contiguous ranges whose upper boundary in
// user-time aligns with k*R+1 (spec.md §8 property 5).
func DefaultPeriodEnds(ts []int64, resolution, startTime int64) []int {
	if len(ts) == 0 || resolution <= 0 {
		return nil
	}
	k0 := floorDiv(startTime-1, resolution)

	var ends []int
	row := 0
	k := int64(0)
	for row < len(ts) {
		boundary := (k0 + 1 + k) * resolution
		last := -1
		for row < len(ts) && ts[row] <= boundary {
			last = row
			row++
		}
		if last >= 0 {
			ends = append(ends, last)
		}
		k++
		if last == -1 && row < len(ts) {
			// Boundary sits before the next unconsumed row; advance k until
			// we cover it rather than spinning forever on a degenerate
			// resolution smaller than the sample spacing.
			continue
		}
	}
	return ends
}

// CounterPeriodEnds computes the counter-aware period ends for a counter
// (monotonically-increasing-with-resets) column: the default set PLUS the
// chunk's first row PLUS, if dropPositions is non-empty (the column's
// `dropped` flag is set), every (d-1, d) pair for d in dropPositions
// (spec.md §4.5 step 1, §8 property 6). Unlike the original FiloDB
// downsampler this never indexes dropPositions by position - only by
// value - so the reported `drops(i-1)` off-by-one at i=0 (spec.md §9 Open
// Question) cannot occur here by construction.
func CounterPeriodEnds(ts []int64, resolution, startTime int64, dropPositions []int) []int {
	set := make(map[int]bool)
	for _, e := range DefaultPeriodEnds(ts, resolution, startTime) {
		set[e] = true
	}
	if len(ts) > 0 {
		set[0] = true
	}
	for _, d := range dropPositions {
		if d >= 1 && d-1 < len(ts) {
			set[d-1] = true
		}
		if d >= 0 && d < len(ts) {
			set[d] = true
		}
	}

	ends := make([]int, 0, len(set))
	for e := range set {
		ends = append(ends, e)
	}
	sortInts(ends)
	return ends
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// PeriodReader is the minimal view a period marker needs of a sealed
// chunk's timestamp column and, for counter columns, its double column's
// drop positions.
type PeriodReader struct {
	Timestamps    *chunk.TimestampReader
	DropPositions []int
	IsCounter     bool
}

// PeriodEnds dispatches to the default or counter marker based on
// IsCounter.
func (p PeriodReader) PeriodEnds(resolution, startTime int64) []int {
	ts := p.Timestamps.All()
	if p.IsCounter {
		return CounterPeriodEnds(ts, resolution, startTime, p.DropPositions)
	}
	return DefaultPeriodEnds(ts, resolution, startTime)
}
