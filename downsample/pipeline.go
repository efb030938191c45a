package downsample

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/internal/taskpool"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/remote"
	"github.com/chronodb/tscore/tserrors"
)

// ColumnRule maps one source double column to one output double column
// under a downsampler (spec.md §4.5 step 2).
type ColumnRule struct {
	SourceColumn string
	OutputColumn string
	Downsampler  Downsampler
	// IsCounter marks a monotonically-increasing-with-resets column; its
	// drop positions widen the chunk's period-end set via CounterPeriodEnds
	// instead of DefaultPeriodEnds.
	IsCounter bool
}

// Target is one (resolution, output dataset) downsample destination; a
// single pipeline run feeds as many targets as are configured from the
// same raw scan (spec.md §4.5).
type Target struct {
	Resolution    int64 // milliseconds
	TargetDataset string
	TTLSeconds    int64
	Columns       []ColumnRule
}

// Pipeline is the batch job of spec.md §4.5: read raw chunks over an
// ingestion-time window, downsample per Target, write results to each
// target dataset. Grounded on aggregator/aggregator's rollup batch job
// shape; cross-partition fan-out goes through internal/taskpool.Pool.Batch
// (spec.md §5's bounded compute pool - downsampling is compute-pool work,
// not I/O-pool work) and go.uber.org/multierr aggregates per-partition
// failures without aborting the batch - a bad partition is logged and
// skipped, never poisons the run (spec.md §7).
type Pipeline struct {
	source  remote.ChunkSource
	sink    remote.ChunkSink
	targets []Target
	logger  *zap.Logger

	pool *taskpool.Pool
}

// NewPipeline builds a Pipeline bounding per-batch partition concurrency to
// concurrency via a taskpool.Pool. concurrency <= 0 defaults to 4.
func NewPipeline(source remote.ChunkSource, sink remote.ChunkSink, targets []Target, logger *zap.Logger, concurrency int) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pipeline{source: source, sink: sink, targets: targets, logger: logger, pool: taskpool.New(concurrency)}
}

// NewPipelineWithPool builds a Pipeline that shares an existing compute
// pool (config.Settings.ComputePoolSize via internal/taskpool.Pools,
// typically the same pool the query engine bounds its own work with)
// instead of owning a dedicated one.
func NewPipelineWithPool(source remote.ChunkSource, sink remote.ChunkSink, targets []Target, logger *zap.Logger, pool *taskpool.Pool) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = taskpool.New(4)
	}
	return &Pipeline{source: source, sink: sink, targets: targets, logger: logger, pool: pool}
}

// Run executes one idempotent downsample pass over [ingStart, ingEnd)
// ingestion time for dataset, writing output chunks to every configured
// Target. Re-running over an already-processed window reproduces the
// same output rows since period ends are a pure function of each raw
// chunk's timestamps (spec.md §4.5, §8 property 9).
func (p *Pipeline) Run(ctx context.Context, dataset string, splits []remote.ScanSplit, ingStart, ingEnd, userStart, userEnd, maxChunkTimeMillis int64, batchSize int, batchTime int64) error {
	batches, err := p.source.GetChunksByIngestionTimeRange(ctx, dataset, splits, ingStart, ingEnd, userStart, userEnd, maxChunkTimeMillis, batchSize, batchTime)
	if err != nil {
		return fmt.Errorf("downsample: %w: %v", tserrors.ErrRemoteReadError, err)
	}

	for batch := range batches {
		if err := p.runBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []remote.RawPartData) error {
	var mu sync.Mutex
	var batchErr error
	tasks := make([]func(context.Context) error, len(batch))
	for i, part := range batch {
		part := part
		tasks[i] = func(taskCtx context.Context) error {
			if err := p.processPartition(taskCtx, part); err != nil {
				mu.Lock()
				batchErr = multierr.Append(batchErr, fmt.Errorf("partition %q: %w", part.PartitionKey, err))
				mu.Unlock()
			}
			// always nil: a partition failure is aggregated, not propagated,
			// so one bad partition never cancels the rest of the pool.Batch run.
			return nil
		}
	}
	_ = p.pool.Batch(ctx, tasks)

	if batchErr != nil {
		p.logger.Warn("downsample batch had partition errors", zap.Error(batchErr))
	}
	return nil
}

func (p *Pipeline) processPartition(ctx context.Context, part remote.RawPartData) error {
	for _, ec := range part.Chunks {
		ts := chunk.NewTimestampReader(ec.Timestamps, ec.Info.NumRows)
		doubles := make(map[string]*chunk.DoubleReader, len(ec.DoubleColumns))
		for name, buf := range ec.DoubleColumns {
			doubles[name] = chunk.NewDoubleReader(buf, ec.Info.NumRows, ec.DoubleDropped[name], ec.DoubleDropPositions[name])
		}

		for _, target := range p.targets {
			outTS, outCols := downsampleChunk(ts, doubles, ec.Info.StartTime, target)
			if len(outTS) == 0 {
				continue
			}
			if err := p.writeOutput(ctx, target, part.PartitionKey, outTS, outCols); err != nil {
				return err
			}
		}
	}
	return nil
}

// downsampleChunk applies one Target's column rules to one raw chunk,
// returning the output timestamp column and one output double column per
// rule, in period order.
func downsampleChunk(ts *chunk.TimestampReader, doubles map[string]*chunk.DoubleReader, startTime int64, target Target) ([]int64, map[string][]float64) {
	if ts.Len() == 0 {
		return nil, nil
	}

	// All columns in a chunk share one set of period boundaries (spec.md
	// §4.5 step 1); a counter column's drops widen that set.
	var dropPositions []int
	isCounter := false
	for _, rule := range target.Columns {
		if rule.IsCounter {
			isCounter = true
			if r, ok := doubles[rule.SourceColumn]; ok {
				dropPositions = append(dropPositions, r.DropPositions()...)
			}
		}
	}
	ends := PeriodReader{Timestamps: ts, DropPositions: dropPositions, IsCounter: isCounter}.PeriodEnds(target.Resolution, startTime)
	if len(ends) == 0 {
		return nil, nil
	}

	outTS := make([]int64, 0, len(ends))
	outCols := make(map[string][]float64, len(target.Columns))
	for _, rule := range target.Columns {
		outCols[rule.OutputColumn] = make([]float64, 0, len(ends))
	}

	prevEnd := -1
	for _, end := range ends {
		start := prevEnd + 1
		prevEnd = end

		rowTS, ok := TimestampDownsampler(ts, start, end)
		if !ok {
			continue
		}
		outTS = append(outTS, int64(rowTS))

		for _, rule := range target.Columns {
			reader, ok := doubles[rule.SourceColumn]
			var v float64
			if ok && rule.Downsampler != nil {
				v, ok = rule.Downsampler(reader, start, end)
			}
			if !ok {
				v = math.NaN()
			}
			outCols[rule.OutputColumn] = append(outCols[rule.OutputColumn], v)
		}
	}
	return outTS, outCols
}

func (p *Pipeline) writeOutput(ctx context.Context, target Target, key model.PartitionKey, outTS []int64, outCols map[string][]float64) error {
	tsEnc := chunk.NewTimestampEncoder()
	for _, t := range outTS {
		tsEnc.Append(t)
	}
	tsBytes, n := tsEnc.Seal()

	doubleColumns := make(map[string][]byte, len(outCols))
	dropped := make(map[string]bool, len(outCols))
	dropPositions := make(map[string][]int, len(outCols))
	for name, vals := range outCols {
		enc := chunk.NewDoubleEncoder()
		for _, v := range vals {
			enc.Append(v)
		}
		buf, _, d, dp := enc.Seal()
		doubleColumns[name] = buf
		dropped[name] = d
		dropPositions[name] = dp
	}

	info := model.ChunkInfo{
		ChunkID:       model.NewChunkID(outTS[0]),
		StartTime:     outTS[0],
		EndTime:       outTS[n-1],
		IngestionTime: outTS[n-1],
		NumRows:       n,
	}

	reqCh := make(chan remote.WriteRequest, 1)
	reqCh <- remote.WriteRequest{
		PartitionKey: key,
		Chunk: remote.EncodedChunkSet{
			Info:                info,
			Timestamps:          tsBytes,
			DoubleColumns:       doubleColumns,
			DoubleDropped:       dropped,
			DoubleDropPositions: dropPositions,
		},
	}
	close(reqCh)

	if _, err := p.sink.Write(ctx, target.TargetDataset, reqCh, target.TTLSeconds); err != nil {
		return fmt.Errorf("%w: %v", tserrors.ErrRemoteWriteRejected, err)
	}
	return nil
}
