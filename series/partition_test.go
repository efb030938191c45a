package series

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronodb/tscore/chunk"
	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/tserrors"
)

func testSchema(t *testing.T) *model.Schema {
	t.Helper()
	s, err := model.NewSchema("heap", []model.Column{
		{Name: "app", Type: model.ColumnTypeUTF8, PartitionKey: true},
		{Name: "timestamp", Type: model.ColumnTypeTimestamp},
		{Name: "value", Type: model.ColumnTypeDouble},
	})
	require.NoError(t, err)
	return s
}

func TestPartitionIngestOrdering(t *testing.T) {
	schema := testSchema(t)
	p := NewPartition(model.PartitionKey("app=x"), "heap", schema, nil, nil, nil)

	for i := 0; i < 720; i++ {
		err := p.Ingest(Row{Timestamp: int64(i) * 10_000, Doubles: map[string]float64{"value": float64(i)}})
		require.NoError(t, err)
	}

	require.Equal(t, int64(7190_000), p.LastIngestedMillis())
}

func TestPartitionRejectsOutOfOrder(t *testing.T) {
	schema := testSchema(t)
	p := NewPartition(model.PartitionKey("app=x"), "heap", schema, nil, nil, nil)

	require.NoError(t, p.Ingest(Row{Timestamp: 1000, Doubles: map[string]float64{"value": 1}}))
	err := p.Ingest(Row{Timestamp: 999, Doubles: map[string]float64{"value": 2}})
	require.Error(t, err)
	require.True(t, errors.Is(err, tserrors.ErrOutOfOrderSample))

	err = p.Ingest(Row{Timestamp: 1000, Doubles: map[string]float64{"value": 2}})
	require.Error(t, err)
	require.True(t, errors.Is(err, tserrors.ErrOutOfOrderSample))
}

func TestPartitionSwitchBuffersEncodesAndSeals(t *testing.T) {
	schema := testSchema(t)
	blockMgr := chunk.NewBlockManager(1 << 20)
	p := NewPartition(model.PartitionKey("app=x"), "heap", schema, nil, blockMgr, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Ingest(Row{Timestamp: int64(i) * 1000, Doubles: map[string]float64{"value": float64(i)}}))
	}

	require.Equal(t, BufferFilling, p.State())

	cs, err := p.SwitchBuffers(true)
	require.NoError(t, err)
	require.NotNil(t, cs)
	require.Equal(t, BufferEncoded, p.State())
	require.Equal(t, 1, p.NumChunks())
	require.Equal(t, 10, cs.NumRows())
	require.Equal(t, []int64{0, 1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000}, cs.Timestamps.All())
}

func TestPartitionFlushListenerFiresOnce(t *testing.T) {
	schema := testSchema(t)
	p := NewPartition(model.PartitionKey("app=x"), "heap", schema, nil, nil, nil)
	require.NoError(t, p.Ingest(Row{Timestamp: 1, Doubles: map[string]float64{"value": 1}}))
	_, err := p.SwitchBuffers(true)
	require.NoError(t, err)

	calls := 0
	p.OnNextFlush(func(err error) { calls++ })
	p.InvokeFlushListener(nil)
	p.InvokeFlushListener(nil) // second flush with no new listener registered

	require.Equal(t, 1, calls)
	require.Equal(t, BufferPersisted, p.State())
}

func TestPartitionReaderOverlapFiltering(t *testing.T) {
	schema := testSchema(t)
	p := NewPartition(model.PartitionKey("app=x"), "heap", schema, nil, nil, nil)

	for _, chunkStart := range []int64{0, 1000, 2000} {
		for i := int64(0); i < 10; i++ {
			require.NoError(t, p.Ingest(Row{Timestamp: chunkStart + i*10, Doubles: map[string]float64{"value": 1}}))
		}
		_, err := p.SwitchBuffers(true)
		require.NoError(t, err)
	}

	chunks, err := p.Reader(1005, 1500)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, int64(1000), chunks[0].Info.StartTime)
}

func histogramSchema(t *testing.T) *model.Schema {
	t.Helper()
	s, err := model.NewSchema("latency", []model.Column{
		{Name: "app", Type: model.ColumnTypeUTF8, PartitionKey: true},
		{Name: "timestamp", Type: model.ColumnTypeTimestamp},
		{Name: "latency", Type: model.ColumnTypeHistogram},
	})
	require.NoError(t, err)
	return s
}

func TestPartitionEncodesAndDecodesHistogramColumn(t *testing.T) {
	schema := histogramSchema(t)
	p := NewPartition(model.PartitionKey("app=x"), "latency", schema, nil, nil, nil)
	scheme := chunk.BucketScheme{UpperBounds: []float64{10, 100, math.Inf(1)}}

	require.NoError(t, p.Ingest(Row{
		Timestamp:        0,
		Histograms:       map[string]chunk.HistogramValue{"latency": {Counts: []uint64{1, 3, 3}, Sum: 12}},
		HistogramSchemes: map[string]chunk.BucketScheme{"latency": scheme},
	}))
	require.NoError(t, p.Ingest(Row{
		Timestamp:        1000,
		Histograms:       map[string]chunk.HistogramValue{"latency": {Counts: []uint64{2, 5, 6}, Sum: 30}},
		HistogramSchemes: map[string]chunk.BucketScheme{"latency": scheme},
	}))

	cs, err := p.SwitchBuffers(true)
	require.NoError(t, err)
	require.NotNil(t, cs)

	reader, ok := cs.Histograms["latency"]
	require.True(t, ok)
	require.Equal(t, 2, reader.Len())
	require.Equal(t, scheme.UpperBounds, reader.Scheme().UpperBounds)
	require.Equal(t, []uint64{1, 3, 3}, reader.At(0).Counts)
	require.Equal(t, float64(12), reader.At(0).Sum)
	require.Equal(t, []uint64{2, 5, 6}, reader.At(1).Counts)
	require.Equal(t, float64(30), reader.At(1).Sum)
}

// TestPartitionChunksCarryIndependentBucketSchemesAcrossFlushes exercises
// spec.md's Scenario F setup at the storage layer: two flushes with
// different bucket schemes produce two ChunkSets, each reporting its own
// scheme, since a HistogramEncoder is only ever handed one scheme (spec.md
// §4.1). SelectRawHistogramBucketsExec.readBuckets is what turns this into
// the NaN-padded per-bucket series the query layer sees.
func TestPartitionChunksCarryIndependentBucketSchemesAcrossFlushes(t *testing.T) {
	schema := histogramSchema(t)
	p := NewPartition(model.PartitionKey("app=x"), "latency", schema, nil, nil, nil)

	schemeA := chunk.BucketScheme{UpperBounds: []float64{10, 100, math.Inf(1)}}
	require.NoError(t, p.Ingest(Row{
		Timestamp:        0,
		Histograms:       map[string]chunk.HistogramValue{"latency": {Counts: []uint64{1, 3, 3}, Sum: 12}},
		HistogramSchemes: map[string]chunk.BucketScheme{"latency": schemeA},
	}))
	_, err := p.SwitchBuffers(true)
	require.NoError(t, err)

	schemeB := chunk.BucketScheme{UpperBounds: []float64{10, 50, 100, math.Inf(1)}}
	require.NoError(t, p.Ingest(Row{
		Timestamp:        1000,
		Histograms:       map[string]chunk.HistogramValue{"latency": {Counts: []uint64{1, 2, 4, 4}, Sum: 20}},
		HistogramSchemes: map[string]chunk.BucketScheme{"latency": schemeB},
	}))
	_, err = p.SwitchBuffers(true)
	require.NoError(t, err)

	chunks, err := p.Reader(0, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, schemeA.UpperBounds, chunks[0].Histograms["latency"].Scheme().UpperBounds)
	require.Equal(t, schemeB.UpperBounds, chunks[1].Histograms["latency"].Scheme().UpperBounds)
}
