// Package shard implements spec.md §4.3: a Shard owning a contiguous range
// of the partition-key hash space, its partition directory, inverted
// index, flush groups and eviction policy. Grounded on
// dbnode/storage/shard.go for the flush-group/partition-directory shape
// and m3ninx/postings/roaring for the inverted-index postings lists.
package shard

import (
	"regexp"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// PartitionID is a shard-local, dense integer identifier assigned to a
// partition the first time it is seen, used as the roaring postings value
// (roaring bitmaps are most compact over dense small integers, which
// partition-key byte strings are not).
type PartitionID uint32

// FilterOp is one of the filter operators the inverted index supports
// (spec.md §4.3).
type FilterOp int

const (
	FilterEquals FilterOp = iota
	FilterNotEquals
	FilterRegexMatch
	FilterRegexNotMatch
)

// LabelFilter selects partitions by one label's value.
type LabelFilter struct {
	Name  string
	Value string
	Op    FilterOp
}

// InvertedIndex maps interned (label name, value) pairs to roaring-encoded
// partition-id postings lists, supporting AND/OR/EQUALS/NOT_EQUALS/
// REGEX_MATCH/REGEX_NOT_MATCH filters (spec.md §4.3). Newly added
// partitions become searchable only at an explicit Commit; reads between
// commits may see a slightly stale index, matching spec.md's "copy-on-write
// snapshot per query" ordering rule (spec.md §5).
type InvertedIndex struct {
	mu sync.Mutex

	// committed is swapped in at Commit and read lock-free by queries via
	// Snapshot; pending accumulates postings added since the last commit.
	committed *indexGeneration
	pending   *indexGeneration

	allPartitions *roaring.Bitmap // all partition ids ever added, committed set
}

type indexGeneration struct {
	postings map[string]*roaring.Bitmap // "name\xffvalue" -> partition ids
	allIDs   *roaring.Bitmap
}

func newGeneration() *indexGeneration {
	return &indexGeneration{postings: make(map[string]*roaring.Bitmap), allIDs: roaring.NewBitmap()}
}

// NewInvertedIndex returns an empty index.
func NewInvertedIndex() *InvertedIndex {
	idx := &InvertedIndex{committed: newGeneration(), pending: newGeneration(), allPartitions: roaring.NewBitmap()}
	return idx
}

func termKey(name, value string) string { return name + "\xff" + value }

// Add records that partition id carries label (name=value). Not visible to
// queries until the next Commit.
func (idx *InvertedIndex) Add(id PartitionID, name, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := termKey(name, value)
	bm, ok := idx.pending.postings[k]
	if !ok {
		bm = roaring.NewBitmap()
		idx.pending.postings[k] = bm
	}
	bm.Add(uint32(id))
	idx.pending.allIDs.Add(uint32(id))
}

// Commit publishes all postings added since the last Commit, making them
// visible to subsequent Snapshot calls (spec.md §4.3 "explicit commit
// points").
func (idx *InvertedIndex) Commit() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	merged := newGeneration()
	for k, bm := range idx.committed.postings {
		merged.postings[k] = bm.Clone()
	}
	merged.allIDs = idx.committed.allIDs.Clone()
	for k, bm := range idx.pending.postings {
		dst, ok := merged.postings[k]
		if !ok {
			dst = roaring.NewBitmap()
			merged.postings[k] = dst
		}
		dst.Or(bm)
	}
	merged.allIDs.Or(idx.pending.allIDs)

	idx.committed = merged
	idx.pending = newGeneration()
	idx.allPartitions = merged.allIDs.Clone()
}

// Snapshot returns a copy-on-write view of the index as of the last
// Commit, safe to query concurrently with further Add/Commit calls
// (spec.md §5 "Inverted index: copy-on-write snapshot per query").
func (idx *InvertedIndex) Snapshot() *IndexSnapshot {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return &IndexSnapshot{gen: idx.committed}
}

// IndexSnapshot is a read-only, point-in-time view of the inverted index.
type IndexSnapshot struct {
	gen *indexGeneration
}

// Equals returns the partition ids with name=value.
func (s *IndexSnapshot) Equals(name, value string) *roaring.Bitmap {
	if bm, ok := s.gen.postings[termKey(name, value)]; ok {
		return bm.Clone()
	}
	return roaring.NewBitmap()
}

// NotEquals returns the partition ids that do NOT carry name=value (but do
// carry some value for name, matching PromQL's `!=` semantics restricted
// to series that have the label at all - absent labels never match).
func (s *IndexSnapshot) NotEquals(name, value string) *roaring.Bitmap {
	withLabel := s.allWithLabel(name)
	eq := s.Equals(name, value)
	withLabel.AndNot(eq)
	return withLabel
}

func (s *IndexSnapshot) allWithLabel(name string) *roaring.Bitmap {
	out := roaring.NewBitmap()
	prefix := name + "\xff"
	for k, bm := range s.gen.postings {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out.Or(bm)
		}
	}
	return out
}

// RegexMatch returns the partition ids whose name label value matches re.
func (s *IndexSnapshot) RegexMatch(name string, re *regexp.Regexp) *roaring.Bitmap {
	out := roaring.NewBitmap()
	prefix := name + "\xff"
	for k, bm := range s.gen.postings {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		value := k[len(prefix):]
		if re.MatchString(value) {
			out.Or(bm)
		}
	}
	return out
}

// RegexNotMatch returns the partition ids with name present but not
// matching re.
func (s *IndexSnapshot) RegexNotMatch(name string, re *regexp.Regexp) *roaring.Bitmap {
	withLabel := s.allWithLabel(name)
	withLabel.AndNot(s.RegexMatch(name, re))
	return withLabel
}

// Filter evaluates a single LabelFilter against the snapshot.
func (s *IndexSnapshot) Filter(f LabelFilter) (*roaring.Bitmap, error) {
	switch f.Op {
	case FilterEquals:
		return s.Equals(f.Name, f.Value), nil
	case FilterNotEquals:
		return s.NotEquals(f.Name, f.Value), nil
	case FilterRegexMatch:
		re, err := regexp.Compile(f.Value)
		if err != nil {
			return nil, err
		}
		return s.RegexMatch(f.Name, re), nil
	case FilterRegexNotMatch:
		re, err := regexp.Compile(f.Value)
		if err != nil {
			return nil, err
		}
		return s.RegexNotMatch(f.Name, re), nil
	default:
		return roaring.NewBitmap(), nil
	}
}

// MatchAll evaluates every filter and ANDs (intersects) the results,
// the conjunction spec.md §4.3 requires for a selector's label filters.
func (s *IndexSnapshot) MatchAll(filters []LabelFilter) (*roaring.Bitmap, error) {
	if len(filters) == 0 {
		return s.gen.allIDs.Clone(), nil
	}
	result, err := s.Filter(filters[0])
	if err != nil {
		return nil, err
	}
	for _, f := range filters[1:] {
		bm, err := s.Filter(f)
		if err != nil {
			return nil, err
		}
		result.And(bm)
	}
	return result, nil
}
