package execplan

import (
	"fmt"

	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/shard"
)

// SelectRawPartitionsExec is a leaf exec-plan node: it resolves a label
// selector against one shard's inverted index and streams one
// model.RangeVector per matching partition, reading its resident (and, if
// the partition has a PagingRequester, remotely paged-in) chunk sets for
// [Start, End]. Grounded on query/storage/m3's per-shard leaf fan-out and
// planner.RawSeries materialization (spec.md §4.7 step "leaf
// materialization").
type SelectRawPartitionsExec struct {
	Shard      *shard.Shard
	Filters    []shard.LabelFilter
	Columns    []string
	Start, End int64
}

func (n *SelectRawPartitionsExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	if err := session.CheckDeadline(); err != nil {
		return model.ResultSchema{}, nil, err
	}

	matches, err := n.Shard.PartitionsWithLabelsMatching(n.Filters)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("select raw partitions: %w", err)
	}

	cols := make([]model.Column, len(n.Columns))
	for i, c := range n.Columns {
		cols[i] = model.Column{Name: c, Type: model.ColumnTypeDouble}
	}
	schema := model.ResultSchema{Columns: cols, IsTimeSeries: true}

	stream := NewRangeVectorStream(0)
	go func() {
		var streamErr error
		for _, m := range matches {
			if err := session.CheckDeadline(); err != nil {
				streamErr = err
				break
			}
			rows, err := n.readPartitionRows(m)
			if err != nil {
				streamErr = err
				break
			}
			if err := session.AddSamples(int64(len(rows))); err != nil {
				streamErr = err
				break
			}
			stream.Send(model.RangeVector{
				Key:  model.NewRangeVectorKey(m.Labels),
				Rows: model.NewSliceIterator(rows),
			})
		}
		stream.Close(streamErr)
	}()

	return schema, stream, nil
}

// readPartitionRows decodes every chunk set overlapping [Start, End] for
// one matched partition into a single timestamp-ordered Datapoint slice
// for the leaf's primary requested column. Chunk sets are already
// returned oldest-first and non-overlapping by Partition.Reader, so no
// merge step is needed beyond trimming each chunk to the query range.
func (n *SelectRawPartitionsExec) readPartitionRows(m shard.PartitionMatch) ([]model.Datapoint, error) {
	chunkSets, err := m.Partition.Reader(n.Start, n.End)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, cs := range chunkSets {
			cs.Release()
		}
	}()

	if len(n.Columns) == 0 {
		return nil, nil
	}
	col := n.Columns[0]

	var out []model.Datapoint
	for _, cs := range chunkSets {
		reader, ok := cs.Doubles[col]
		if !ok {
			continue
		}
		ts := cs.Timestamps
		for i := 0; i < ts.Len(); i++ {
			t := ts.At(i)
			if t < n.Start || t > n.End {
				continue
			}
			out = append(out, model.Datapoint{Timestamp: t, Value: reader.At(i)})
		}
	}
	return out, nil
}

// LocalPartitionDistConcatExec fans a RawSeries leaf out across every
// shard of a dataset, concatenating their RangeVector streams into one
// (spec.md §4.7 "per-shard SelectRawPartitionsExec under
// LocalPartitionDistConcatExec"). The children's Execute calls are made one
// after another on the caller's goroutine; one goroutine then drains each
// child's stream in turn.
type LocalPartitionDistConcatExec struct {
	Children []Node
}

func (n *LocalPartitionDistConcatExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	if len(n.Children) == 0 {
		return model.ResultSchema{}, nil, fmt.Errorf("local partition dist concat: no children")
	}

	var schema model.ResultSchema
	streams := make([]*RangeVectorStream, len(n.Children))
	for i, child := range n.Children {
		s, stream, err := child.Execute(session)
		if err != nil {
			return model.ResultSchema{}, nil, fmt.Errorf("local partition dist concat: shard %d: %w", i, err)
		}
		if i == 0 {
			schema = s
		}
		streams[i] = stream
	}

	out := NewRangeVectorStream(0)
	go func() {
		var outErr error
		for _, s := range streams {
			for rv := range s.Chan() {
				out.Send(rv)
			}
			if err := s.Err(); err != nil {
				outErr = err
			}
		}
		out.Close(outErr)
	}()

	return schema, out, nil
}
