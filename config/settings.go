// Package config defines the immutable configuration surface consumed by
// the storage, downsample and query packages. Per spec.md §9's design
// note against a global configuration singleton, Settings is a plain
// value built once (via New) and threaded down explicitly; this package
// does no file or flag parsing (loading configuration is an external
// collaborator per spec.md §1).
package config

import "time"

// Settings is the configuration surface enumerated in spec.md §6.
// Zero-value-unsafe fields are given sane defaults by New.
type Settings struct {
	// memstore.*
	ChunksToKeep       int
	MaxChunkSize       int
	MaxNumPartitions   int
	GroupsPerShard     int
	ShardMemoryMB      int

	// store.*
	FlushInterval          time.Duration
	DiskTimeToLive         time.Duration
	ShardMemSize           int64
	IngestionBufferMemSize int64
	DemandPagingEnabled    bool
	MultiPartitionODP      bool

	// downsampler.*
	Resolutions               []time.Duration
	TTLs                       []time.Duration
	RawSchemaNames             []string
	NumPartitionsPerCassWrite  int
	OffHeapBlockMemorySize     int64
	OffHeapNativeMemorySize    int64
	WidenIngestionTimeRangeBy  time.Duration
	UserTimeOverride           *int64 // optional epoch ms

	// query.*
	SampleLimit int
	AskTimeout  time.Duration

	// concurrency.* (spec.md §5 "two logical pools")
	IOPoolSize      int
	ComputePoolSize int
}

// Option mutates a Settings value under construction.
type Option func(*Settings)

// New builds a Settings value with the teacher's usual conservative
// defaults, applying opts in order.
func New(opts ...Option) Settings {
	s := Settings{
		ChunksToKeep:              32,
		MaxChunkSize:              1000,
		MaxNumPartitions:          2 << 20,
		GroupsPerShard:            60,
		ShardMemoryMB:             512,
		FlushInterval:             1 * time.Hour,
		DiskTimeToLive:            7 * 24 * time.Hour,
		ShardMemSize:              1 << 30,
		IngestionBufferMemSize:    256 << 20,
		DemandPagingEnabled:       true,
		MultiPartitionODP:         false,
		NumPartitionsPerCassWrite: 250,
		OffHeapBlockMemorySize:    1 << 30,
		OffHeapNativeMemorySize:   512 << 20,
		WidenIngestionTimeRangeBy: 10 * time.Minute,
		SampleLimit:               1_000_000,
		AskTimeout:                30 * time.Second,
		IOPoolSize:                64,
		ComputePoolSize:           16,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Settings) { s.FlushInterval = d }
}

func WithSampleLimit(n int) Option {
	return func(s *Settings) { s.SampleLimit = n }
}

func WithResolutions(resolutions, ttls []time.Duration, targetSchemaNames []string) Option {
	return func(s *Settings) {
		s.Resolutions = resolutions
		s.TTLs = ttls
		s.RawSchemaNames = targetSchemaNames
	}
}

func WithPoolSizes(ioPoolSize, computePoolSize int) Option {
	return func(s *Settings) {
		s.IOPoolSize = ioPoolSize
		s.ComputePoolSize = computePoolSize
	}
}

func WithDemandPaging(enabled, multiPartition bool) Option {
	return func(s *Settings) {
		s.DemandPagingEnabled = enabled
		s.MultiPartitionODP = multiPartition
	}
}
