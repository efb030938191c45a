// Package memsink is an in-memory fake implementing both remote.ChunkSink
// and remote.ChunkSource, used only by tests in this module (there is no
// production implementation here - the real wide-column store is an
// external collaborator per spec.md §1). Grounded on the teacher's pattern
// of providing an in-memory fake (e.g. dbnode/storage/bootstrap/result)
// behind the same interface the production backend satisfies.
package memsink

import (
	"context"
	"sort"
	"sync"

	"github.com/chronodb/tscore/model"
	"github.com/chronodb/tscore/remote"
)

// Store is an in-memory ChunkSink + ChunkSource.
type Store struct {
	mu   sync.Mutex
	data map[string]map[string][]remote.EncodedChunkSet // dataset -> partitionKey -> chunks
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string][]remote.EncodedChunkSet)}
}

func (s *Store) Initialize(ctx context.Context, dataset string, numShards int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[dataset]; !ok {
		s.data[dataset] = make(map[string][]remote.EncodedChunkSet)
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context, dataset string, numShards int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[dataset] = make(map[string][]remote.EncodedChunkSet)
	return nil
}

func (s *Store) Drop(ctx context.Context, dataset string, numShards int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, dataset)
	return nil
}

func (s *Store) Write(ctx context.Context, dataset string, chunkSets <-chan remote.WriteRequest, ttlSeconds int64) (int, error) {
	count := 0
	for wr := range chunkSets {
		s.mu.Lock()
		if s.data[dataset] == nil {
			s.data[dataset] = make(map[string][]remote.EncodedChunkSet)
		}
		key := string(wr.PartitionKey)
		s.data[dataset][key] = append(s.data[dataset][key], wr.Chunk)
		sort.Slice(s.data[dataset][key], func(i, j int) bool {
			return s.data[dataset][key][i].Info.StartTime < s.data[dataset][key][j].Info.StartTime
		})
		s.mu.Unlock()
		count++
	}
	return count, nil
}

func (s *Store) WritePartKeys(ctx context.Context, dataset string, shard uint32, records <-chan remote.PartKeyRecord, ttl int64) error {
	for range records {
	}
	return nil
}

func (s *Store) ReadRawPartitions(ctx context.Context, dataset string, maxChunkTimeMillis int64, part remote.PartMethod, chunkMethod remote.ChunkMethod) (<-chan remote.RawPartData, error) {
	out := make(chan remote.RawPartData)
	go func() {
		defer close(out)
		s.mu.Lock()
		defer s.mu.Unlock()
		keys := part.PartitionKeys
		if len(keys) == 0 {
			for k := range s.data[dataset] {
				keys = append(keys, model.PartitionKey(k))
			}
		}
		start := chunkMethod.Start - maxChunkTimeMillis
		for _, pk := range keys {
			var matched []remote.EncodedChunkSet
			for _, c := range s.data[dataset][string(pk)] {
				if c.Info.Overlaps(start, chunkMethod.End) {
					matched = append(matched, c)
				}
			}
			if len(matched) > 0 {
				select {
				case out <- remote.RawPartData{PartitionKey: pk, Chunks: matched}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) GetChunksByIngestionTimeRange(ctx context.Context, dataset string, splits []remote.ScanSplit, ingStart, ingEnd, userStart, userEnd, maxChunkTimeMillis int64, batchSize int, batchTime int64) (<-chan []remote.RawPartData, error) {
	out := make(chan []remote.RawPartData)
	go func() {
		defer close(out)
		s.mu.Lock()
		defer s.mu.Unlock()
		var batch []remote.RawPartData
		for k, chunks := range s.data[dataset] {
			var matched []remote.EncodedChunkSet
			for _, c := range chunks {
				if c.Info.IngestionTime >= ingStart && c.Info.IngestionTime < ingEnd &&
					c.Info.Overlaps(userStart-maxChunkTimeMillis, userEnd) {
					matched = append(matched, c)
				}
			}
			if len(matched) == 0 {
				continue
			}
			batch = append(batch, remote.RawPartData{PartitionKey: model.PartitionKey(k), Chunks: matched})
			if len(batch) >= batchSize {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
				batch = nil
			}
		}
		if len(batch) > 0 {
			select {
			case out <- batch:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (s *Store) GetScanSplits(ctx context.Context, dataset string, splitsPerNode int) ([]remote.ScanSplit, error) {
	return []remote.ScanSplit{{StartToken: 0, EndToken: ^uint64(0), ReplicaHosts: []string{"local"}}}, nil
}

func (s *Store) ScanPartKeys(ctx context.Context, dataset string, shard uint32) (<-chan remote.PartKeyRecord, error) {
	out := make(chan remote.PartKeyRecord)
	close(out)
	return out, nil
}
