package execplan

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/shard"
)

// SelectRawHistogramBucketsExec is a histogram-column leaf: for every
// partition matching Filters it explodes Column's per-row cumulative
// bucket counts into one float series per bucket, each tagged with a
// synthetic "le" label holding that bucket's upper bound (the standard
// Prometheus bucket-series convention), so every downstream node only
// ever has to deal in model.Datapoint float series (spec.md §4.8
// ApplyMiscellaneousFunction's note that histogram_quantile is "bucket
// handling" over an ordinary vector, not a distinct value type).
type SelectRawHistogramBucketsExec struct {
	Shard      *shard.Shard
	Filters    []shard.LabelFilter
	Column     string
	Start, End int64
}

func (n *SelectRawHistogramBucketsExec) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	if err := session.CheckDeadline(); err != nil {
		return model.ResultSchema{}, nil, err
	}
	matches, err := n.Shard.PartitionsWithLabelsMatching(n.Filters)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("select raw histogram buckets: %w", err)
	}

	schema := model.ResultSchema{
		Columns:      []model.Column{{Name: n.Column, Type: model.ColumnTypeHistogram}},
		IsTimeSeries: true,
		IsHistogram:  true,
	}

	stream := NewRangeVectorStream(0)
	go func() {
		var streamErr error
		for _, m := range matches {
			if err := session.CheckDeadline(); err != nil {
				streamErr = err
				break
			}
			perBucket, err := n.readBuckets(m)
			if err != nil {
				streamErr = err
				break
			}
			var total int64
			for le, rows := range perBucket {
				total += int64(len(rows))
				labels := make(map[string]string, len(m.Labels)+1)
				for k, v := range m.Labels {
					labels[k] = v
				}
				labels["le"] = le
				stream.Send(model.RangeVector{Key: model.NewRangeVectorKey(labels), Rows: model.NewSliceIterator(rows)})
			}
			if err := session.AddSamples(total); err != nil {
				streamErr = err
				break
			}
		}
		stream.Close(streamErr)
	}()

	return schema, stream, nil
}

// readBuckets walks every chunk set's rows in order (chunks are already
// oldest-first and non-overlapping per Partition.Reader) and, since the
// bucket scheme is fixed per chunk but may differ chunk to chunk, tracks
// the union of every "le" bucket seen so far: a bucket first seen partway
// through the stream is backfilled with NaN for every row before it, and
// a row whose chunk's scheme lacks an already-seen bucket gets NaN for it
// (spec.md §4.8 HistToPromSeriesMapper's "schema changes mid-stream pad
// missing buckets with NaN and backfill previously-seen buckets").
func (n *SelectRawHistogramBucketsExec) readBuckets(m shard.PartitionMatch) (map[string][]model.Datapoint, error) {
	chunkSets, err := m.Partition.Reader(n.Start, n.End)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, cs := range chunkSets {
			cs.Release()
		}
	}()

	// First pass: every row's timestamp plus its le->count map, in
	// timestamp order (chunks are already oldest-first).
	var timestamps []int64
	var rowValues []map[string]float64
	for _, cs := range chunkSets {
		reader, ok := cs.Histograms[n.Column]
		if !ok {
			continue
		}
		scheme := reader.Scheme()
		ts := cs.Timestamps
		for i := 0; i < ts.Len(); i++ {
			t := ts.At(i)
			if t < n.Start || t > n.End {
				continue
			}
			v := reader.At(i)
			values := make(map[string]float64, len(scheme.UpperBounds))
			for bi, bound := range scheme.UpperBounds {
				if bi >= len(v.Counts) {
					break
				}
				values[formatBound(bound)] = float64(v.Counts[bi])
			}
			timestamps = append(timestamps, t)
			rowValues = append(rowValues, values)
		}
	}

	// Second pass: the distinct buckets seen across any row, in
	// first-appearance order, then one full-length series per bucket -
	// a row whose own scheme didn't carry that bucket (whether the row
	// predates its first appearance or the schema later dropped it)
	// naturally gets NaN from the map lookup below.
	var order []string
	seen := map[string]bool{}
	for _, values := range rowValues {
		for le := range values {
			if !seen[le] {
				seen[le] = true
				order = append(order, le)
			}
		}
	}

	out := make(map[string][]model.Datapoint, len(order))
	for _, le := range order {
		rows := make([]model.Datapoint, len(rowValues))
		for i, values := range rowValues {
			v, ok := values[le]
			if !ok {
				v = math.NaN()
			}
			rows[i] = model.Datapoint{Timestamp: timestamps[i], Value: v}
		}
		out[le] = rows
	}
	return out, nil
}

func formatBound(bound float64) string {
	if math.IsInf(bound, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(bound, 'g', -1, 64)
}

// HistogramQuantileMapper groups Child's le-tagged bucket series by every
// other label and estimates Quantile at each shared timestamp via linear
// interpolation within the bucket the target rank falls in - the standard
// cumulative-histogram estimator (spec.md ApplyMiscellaneousFunction
// histogram_quantile). Buffers its whole input, the same as AggregateExec,
// since a quantile for one timestamp needs every bucket's count at it.
type HistogramQuantileMapper struct {
	Child    Node
	Quantile float64
}

func (n *HistogramQuantileMapper) Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error) {
	schema, childStream, err := n.Child.Execute(session)
	if err != nil {
		return model.ResultSchema{}, nil, err
	}
	schema = schema.Clone()
	schema.IsHistogram = false

	rvs, err := Collect(session, childStream)
	if err != nil {
		return model.ResultSchema{}, nil, fmt.Errorf("histogram_quantile: %w", err)
	}

	groups := map[string][]quantileBucket{}
	groupKey := map[string]model.RangeVectorKey{}
	for _, rv := range rvs {
		le, ok := rv.Key.Get("le")
		if !ok {
			continue
		}
		bound, err := strconv.ParseFloat(le, 64)
		if err != nil {
			if le == "+Inf" {
				bound = math.Inf(1)
			} else {
				continue
			}
		}
		base := rv.Key.Project([]string{"le"}, true)
		sig := base.Signature()
		rows, err := model.Drain(rv.Rows)
		if err != nil {
			return model.ResultSchema{}, nil, err
		}
		groups[sig] = append(groups[sig], quantileBucket{upperBound: bound, rows: rows})
		groupKey[sig] = base
	}

	out := NewRangeVectorStream(0)
	go func() {
		for sig, buckets := range groups {
			sort.Slice(buckets, func(i, j int) bool { return buckets[i].upperBound < buckets[j].upperBound })

			byTS := map[int64][]float64{}
			var order []int64
			for _, b := range buckets {
				for _, dp := range b.rows {
					if _, seen := byTS[dp.Timestamp]; !seen {
						order = append(order, dp.Timestamp)
					}
					byTS[dp.Timestamp] = append(byTS[dp.Timestamp], dp.Value)
				}
			}
			sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

			rows := make([]model.Datapoint, 0, len(order))
			for _, ts := range order {
				counts := byTS[ts]
				if len(counts) != len(buckets) {
					continue
				}
				v := estimateQuantile(n.Quantile, buckets, counts)
				if math.IsNaN(v) {
					continue
				}
				rows = append(rows, model.Datapoint{Timestamp: ts, Value: v})
			}
			out.Send(model.RangeVector{Key: groupKey[sig], Rows: model.NewSliceIterator(rows)})
		}
		out.Close(nil)
	}()

	return schema, out, nil
}

// quantileBucket is one le bucket's upper bound plus its drained row
// samples, grouped by every label except "le".
type quantileBucket struct {
	upperBound float64
	rows       []model.Datapoint
}

func estimateQuantile(q float64, buckets []quantileBucket, counts []float64) float64 {
	if len(counts) == 0 {
		return math.NaN()
	}
	total := counts[len(counts)-1]
	if total == 0 {
		return math.NaN()
	}
	target := q * total

	var prevCount, prevBound float64
	for i, b := range buckets {
		count := counts[i]
		if count >= target {
			if math.IsInf(b.upperBound, 1) {
				return prevBound
			}
			if count == prevCount {
				return b.upperBound
			}
			frac := (target - prevCount) / (count - prevCount)
			return prevBound + frac*(b.upperBound-prevBound)
		}
		prevCount = count
		prevBound = b.upperBound
	}
	return buckets[len(buckets)-1].upperBound
}
