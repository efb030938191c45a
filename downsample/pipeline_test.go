package downsample

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/remote"
	"github.com/chronodb/tscore/remote/memsink"
)

func sealRawChunk(t *testing.T, startTime int64, timestamps []int64, values []float64) remote.EncodedChunkSet {
	t.Helper()

	tsEnc := chunk.NewTimestampEncoder()
	for _, ts := range timestamps {
		tsEnc.Append(ts)
	}
	tsBytes, n := tsEnc.Seal()

	dEnc := chunk.NewDoubleEncoder()
	for _, v := range values {
		dEnc.Append(v)
	}
	dBytes, _, dropped, dropPositions := dEnc.Seal()

	return remote.EncodedChunkSet{
		Info: model.ChunkInfo{
			ChunkID:       model.NewChunkID(startTime),
			StartTime:     timestamps[0],
			EndTime:       timestamps[len(timestamps)-1],
			IngestionTime: timestamps[len(timestamps)-1],
			NumRows:       n,
		},
		Timestamps:          tsBytes,
		DoubleColumns:       map[string][]byte{"value": dBytes},
		DoubleDropped:       map[string]bool{"value": dropped},
		DoubleDropPositions: map[string][]int{"value": dropPositions},
	}
}

// TestPipelineOneMinuteSumDownsample implements spec.md §8 Scenario E: a
// raw gauge ingested once per second for ten minutes, downsampled to a
// 1-minute `sum` resolution, producing one output row per minute whose
// value is the sum of that minute's 60 raw samples.
func TestPipelineOneMinuteSumDownsample(t *testing.T) {
	store := memsink.New()
	require.NoError(t, store.Initialize(context.Background(), "raw", 1))
	require.NoError(t, store.Initialize(context.Background(), "raw_1m", 1))

	const numSamples = 600 // 10 minutes at 1 sample/sec
	timestamps := make([]int64, numSamples)
	values := make([]float64, numSamples)
	for i := 0; i < numSamples; i++ {
		// Offset by 500ms so the first sample does not itself land exactly
		// on a minute boundary (an aligned start produces one degenerate
		// single-row period, which is correct but not what this scenario
		// is illustrating).
		timestamps[i] = int64(i)*1000 + 500
		values[i] = 1
	}
	chunkSet := sealRawChunk(t, timestamps[0], timestamps, values)

	reqCh := make(chan remote.WriteRequest, 1)
	reqCh <- remote.WriteRequest{PartitionKey: model.PartitionKey("app=x"), Chunk: chunkSet}
	close(reqCh)
	n, err := store.Write(context.Background(), "raw", reqCh, 3600)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	target := Target{
		Resolution:    60_000,
		TargetDataset: "raw_1m",
		TTLSeconds:    86400,
		Columns: []ColumnRule{
			{SourceColumn: "value", OutputColumn: "value_sum", Downsampler: SumDownsampler},
		},
	}
	pipeline := NewPipeline(store, store, []Target{target}, nil, 2)

	splits, err := store.GetScanSplits(context.Background(), "raw", 1)
	require.NoError(t, err)

	err = pipeline.Run(context.Background(), "raw", splits,
		0, timestamps[numSamples-1]+1, // ingestion time range covers the chunk
		timestamps[0], timestamps[numSamples-1],
		3_600_000, 10, 3_600_000)
	require.NoError(t, err)

	out, err := store.ReadRawPartitions(context.Background(), "raw_1m", 0,
		remote.PartMethod{PartitionKeys: []model.PartitionKey{model.PartitionKey("app=x")}},
		remote.ChunkMethod{Start: 0, End: timestamps[numSamples-1]})
	require.NoError(t, err)

	var results []remote.RawPartData
	for r := range out {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	require.Len(t, results[0].Chunks, 1)

	outChunk := results[0].Chunks[0]
	require.Equal(t, 10, outChunk.Info.NumRows, "10 one-minute periods from 10 minutes of raw samples")

	sumReader := chunk.NewDoubleReader(outChunk.DoubleColumns["value_sum"], outChunk.Info.NumRows, false, nil)
	for i := 0; i < sumReader.Len(); i++ {
		require.Equal(t, 60.0, sumReader.At(i), "each minute holds 60 one-valued samples")
	}
}

// rejectingSink wraps a memsink.Store and fails every Write that carries
// a chunk set for rejectKey, so one partition of a batch fails on output.
type rejectingSink struct {
	*memsink.Store
	rejectKey string
}

func (s *rejectingSink) Write(ctx context.Context, dataset string, chunkSets <-chan remote.WriteRequest, ttlSeconds int64) (int, error) {
	var kept []remote.WriteRequest
	for wr := range chunkSets {
		if string(wr.PartitionKey) == s.rejectKey {
			return 0, errors.New("write rejected")
		}
		kept = append(kept, wr)
	}
	reqs := make(chan remote.WriteRequest, len(kept))
	for _, wr := range kept {
		reqs <- wr
	}
	close(reqs)
	return s.Store.Write(ctx, dataset, reqs, ttlSeconds)
}

func TestPipelineSkipsPartitionErrorsWithoutAbortingBatch(t *testing.T) {
	store := memsink.New()
	require.NoError(t, store.Initialize(context.Background(), "raw", 1))
	require.NoError(t, store.Initialize(context.Background(), "raw_1m", 1))

	chunkSet := sealRawChunk(t, 0, []int64{0, 1000, 2000}, []float64{1, 2, 3})
	reqCh := make(chan remote.WriteRequest, 2)
	reqCh <- remote.WriteRequest{PartitionKey: model.PartitionKey("app=y"), Chunk: chunkSet}
	reqCh <- remote.WriteRequest{PartitionKey: model.PartitionKey("app=bad"), Chunk: chunkSet}
	close(reqCh)
	_, err := store.Write(context.Background(), "raw", reqCh, 3600)
	require.NoError(t, err)

	target := Target{
		Resolution:    60_000,
		TargetDataset: "raw_1m",
		TTLSeconds:    86400,
		Columns: []ColumnRule{
			{SourceColumn: "value", OutputColumn: "value_sum", Downsampler: SumDownsampler},
		},
	}
	pipeline := NewPipeline(store, &rejectingSink{Store: store, rejectKey: "app=bad"}, []Target{target}, nil, 1)

	splits, err := store.GetScanSplits(context.Background(), "raw", 1)
	require.NoError(t, err)

	err = pipeline.Run(context.Background(), "raw", splits, 0, 3000, 0, 2000, 3_600_000, 10, 3_600_000)
	require.NoError(t, err, "Run never fails for a single bad partition")

	out, err := store.ReadRawPartitions(context.Background(), "raw_1m", 0,
		remote.PartMethod{PartitionKeys: []model.PartitionKey{model.PartitionKey("app=y")}},
		remote.ChunkMethod{Start: 0, End: 2000})
	require.NoError(t, err)
	var written []remote.RawPartData
	for r := range out {
		written = append(written, r)
	}
	require.Len(t, written, 1, "the good partition of the batch is still written")
}
