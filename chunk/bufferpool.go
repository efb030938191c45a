package chunk

import (
	"go.uber.org/atomic"

	"github.com/chronodb/tscore/tserrors"
)

// WriteBuffer is a mutable, append-only per-column buffer accepting live
// samples before a chunk is sealed (spec.md §3 "Write buffer").
type WriteBuffer struct {
	Timestamps []int64
	Doubles    []float64
	Histograms []HistogramValue
	// HistogramScheme is the bucket scheme of every HistogramValue in this
	// buffer: fixed for the buffer's lifetime, set by the first histogram
	// row appended to it and left zero-value if the buffer never carries
	// one (spec.md §4.1 "fixed within a single HistogramEncoder").
	HistogramScheme BucketScheme
	haveScheme      bool
}

func newWriteBuffer(capacity int) *WriteBuffer {
	return &WriteBuffer{
		Timestamps: make([]int64, 0, capacity),
	}
}

// SetHistogramScheme records buf's bucket scheme on the first histogram
// row appended; later calls are no-ops so a scheme change is only ever
// observed by flushing the buffer and starting a new one.
func (b *WriteBuffer) SetHistogramScheme(scheme BucketScheme) {
	if b.haveScheme {
		return
	}
	b.HistogramScheme = scheme
	b.haveScheme = true
}

func (b *WriteBuffer) reset() {
	b.Timestamps = b.Timestamps[:0]
	b.Doubles = b.Doubles[:0]
	b.Histograms = b.Histograms[:0]
	b.HistogramScheme = BucketScheme{}
	b.haveScheme = false
}

// WriteBufferPool is a per-shard fixed-capacity pool of pre-sized write
// buffers (spec.md §4.1). Acquire blocks ingest when the pool is empty by
// returning ErrBufferPoolExhausted, which callers treat as a backpressure
// signal (spec.md §5).
type WriteBufferPool struct {
	free     chan *WriteBuffer
	capHint  int
	acquired atomic.Int64
}

// NewWriteBufferPool preallocates size buffers, each with the given row
// capacity hint.
func NewWriteBufferPool(size, capHint int) *WriteBufferPool {
	p := &WriteBufferPool{free: make(chan *WriteBuffer, size), capHint: capHint}
	for i := 0; i < size; i++ {
		p.free <- newWriteBuffer(capHint)
	}
	return p
}

// Acquire takes a buffer from the pool, or returns ErrBufferPoolExhausted
// if none is immediately available.
func (p *WriteBufferPool) Acquire() (*WriteBuffer, error) {
	select {
	case b := <-p.free:
		p.acquired.Inc()
		return b, nil
	default:
		return nil, tserrors.ErrBufferPoolExhausted
	}
}

// AcquireBlocking takes a buffer from the pool, blocking until one is
// returned. Used by ingest paths that would rather stall than drop.
func (p *WriteBufferPool) AcquireBlocking() *WriteBuffer {
	b := <-p.free
	p.acquired.Inc()
	return b
}

// Release resets and returns a buffer to the pool.
func (p *WriteBufferPool) Release(b *WriteBuffer) {
	b.reset()
	p.acquired.Dec()
	select {
	case p.free <- b:
	default:
		// Pool is already full (buffer created outside normal flow); drop it.
	}
}

// InUse returns the number of buffers currently checked out.
func (p *WriteBufferPool) InUse() int64 { return p.acquired.Load() }
