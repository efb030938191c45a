package model

import (
	"sort"
	"strings"
)

// Datapoint is one (timestamp, value) row. Timestamp is epoch millis.
type Datapoint struct {
	Timestamp int64
	Value     float64
}

// RangeVectorKey is an ordered map of label name to value identifying one
// series within a RangeVector stream. Order is significant for key
// equality checks used by joins and aggregation grouping, so construction
// always goes through NewRangeVectorKey which sorts by name.
type RangeVectorKey struct {
	names  []string
	values []string
}

// NewRangeVectorKey builds a RangeVectorKey from an unordered label map,
// normalizing to a stable, sorted order so two keys with the same labels
// always compare equal via Signature.
func NewRangeVectorKey(labels map[string]string) RangeVectorKey {
	names := make([]string, 0, len(labels))
	for n := range labels {
		names = append(names, n)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	return RangeVectorKey{names: names, values: values}
}

// Get returns the value for a label name and whether it was present.
func (k RangeVectorKey) Get(name string) (string, bool) {
	for i, n := range k.names {
		if n == name {
			return k.values[i], true
		}
	}
	return "", false
}

// Names returns the sorted label names.
func (k RangeVectorKey) Names() []string { return k.names }

// Map materializes the key as a plain map, for building derived keys.
func (k RangeVectorKey) Map() map[string]string {
	m := make(map[string]string, len(k.names))
	for i, n := range k.names {
		m[n] = k.values[i]
	}
	return m
}

// Signature is a canonical string form usable as a map key, e.g. for join
// and aggregation grouping keyed by a label subset.
func (k RangeVectorKey) Signature() string {
	var b strings.Builder
	for i, n := range k.names {
		if i > 0 {
			b.WriteByte('\xff')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(k.values[i])
	}
	return b.String()
}

// Project returns a new key restricted to (or excluding) a set of label
// names, used by `by`/`without` aggregation clauses and `on`/`ignoring`
// join clauses.
func (k RangeVectorKey) Project(names []string, exclude bool) RangeVectorKey {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	m := make(map[string]string)
	for i, n := range k.names {
		keep := want[n]
		if exclude {
			keep = !keep
		}
		if keep {
			m[n] = k.values[i]
		}
	}
	return NewRangeVectorKey(m)
}

// RangeVector is a stream of samples for one series plus its key. The
// Rows iterator is consumed at most once; it is the per-node unit of
// composition in the exec-plan pipeline (spec.md §3 "fundamental
// currency").
type RangeVector struct {
	Key  RangeVectorKey
	Rows RowIterator
}

// RowIterator yields Datapoints in increasing timestamp order.
type RowIterator interface {
	// Next advances to the next row, returning false when exhausted or on
	// error (check Err after Next returns false).
	Next() bool
	At() Datapoint
	Err() error
}

// SliceIterator adapts a pre-materialized slice of Datapoints into a
// RowIterator, used by leaf scans and any node that must buffer rows in
// memory (sort, scalar-from-vector, absent, histogram_quantile, topk -
// per spec.md §9 these are the only intended buffering points).
type SliceIterator struct {
	rows []Datapoint
	pos  int
}

// NewSliceIterator wraps rows (assumed already timestamp-sorted).
func NewSliceIterator(rows []Datapoint) *SliceIterator {
	return &SliceIterator{rows: rows, pos: -1}
}

func (s *SliceIterator) Next() bool {
	s.pos++
	return s.pos < len(s.rows)
}

func (s *SliceIterator) At() Datapoint { return s.rows[s.pos] }

func (s *SliceIterator) Err() error { return nil }

// Drain materializes a RowIterator into a slice, used by the buffering
// points named above.
func Drain(it RowIterator) ([]Datapoint, error) {
	var out []Datapoint
	for it.Next() {
		out = append(out, it.At())
	}
	return out, it.Err()
}
