package execplan

import (
	"go.uber.org/atomic"

	"github.com/chronodb/tscore/model"
)

// Node is one materialized exec-plan node. Execute is pull-based: calling
// it starts producing rows lazily onto the returned stream rather than
// computing the full result eagerly, so a consumer that only wants the
// first few series (or that aborts on a sibling's error) never pays for
// more than it reads (spec.md §4.8).
type Node interface {
	// Execute returns this node's output schema immediately and a stream
	// whose RangeVectors are produced lazily as the consumer ranges over
	// it. A non-nil error return means the node failed before producing
	// anything; a stream-level failure instead closes the stream and sets
	// its Err().
	Execute(session *QuerySession) (model.ResultSchema, *RangeVectorStream, error)
}

// RangeVectorStream is the pull/lazy unit of composition between exec
// plan nodes (spec.md §3 "fundamental currency"): a channel of
// model.RangeVector plus an error slot set at most once, readable once
// the channel has been drained, since Close stores the error before
// closing the channel.
type RangeVectorStream struct {
	ch  chan model.RangeVector
	err atomic.Error
}

// NewRangeVectorStream allocates a stream with the given channel buffer
// size (0 for unbuffered, the common case - plan nodes are expected to
// run each producer in its own goroutine).
func NewRangeVectorStream(buffer int) *RangeVectorStream {
	return &RangeVectorStream{ch: make(chan model.RangeVector, buffer)}
}

// Send publishes one RangeVector. Must not be called after Close.
func (s *RangeVectorStream) Send(rv model.RangeVector) { s.ch <- rv }

// Close marks the stream exhausted, recording err (nil for a clean EOF)
// for a consumer to observe via Err once it has finished ranging over
// Chan.
func (s *RangeVectorStream) Close(err error) {
	if err != nil {
		s.err.Store(err)
	}
	close(s.ch)
}

// Chan exposes the stream for `for rv := range stream.Chan()` consumption.
func (s *RangeVectorStream) Chan() <-chan model.RangeVector { return s.ch }

// Err returns the error the producer closed the stream with, if any. Only
// meaningful after the channel has been fully drained.
func (s *RangeVectorStream) Err() error { return s.err.Load() }

// Collect drains the stream into a slice, for the buffering points spec.md
// §9 names as intentional (sort, topk/bottomk, histogram_quantile, a
// scalar derived from a vector). Respects session cancellation.
func Collect(session *QuerySession, stream *RangeVectorStream) ([]model.RangeVector, error) {
	var out []model.RangeVector
	for rv := range stream.Chan() {
		if err := session.CheckDeadline(); err != nil {
			return out, err
		}
		out = append(out, rv)
	}
	return out, stream.Err()
}
