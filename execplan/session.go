// Package execplan implements spec.md §4.8: the materialized exec plan
// tree, its pull/lazy-RangeVector-stream evaluation contract, and the
// range functions, aggregators, joins and transformers that operate over
// it. Grounded on query/executor's ExecutionState and query/functions'
// per-op node shape, adapted from the teacher's push-based Process(ID,
// Block) model to a pull-based Execute(session) model (see SPEC_FULL.md
// §4.6-§4.8 for why: a lazy pull contract composes naturally with Go
// iterators and lets a LIMIT-style consumer stop early without a
// cancellation side-channel).
package execplan

import (
	"context"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"go.uber.org/atomic"

	"github.com/chronodb/tscore/tserrors"
)

// QuerySession carries the per-query state every ExecPlan node's Execute
// call can see: cancellation, a deadline, and a shared sample budget
// (spec.md §4.8 "global sample limit enforced cooperatively by every
// node that materializes rows").
type QuerySession struct {
	Context context.Context
	TraceID string
	Deadline time.Time

	maxSamples   int64
	usedSamples  atomic.Int64
}

// NewQuerySession builds a session with a fresh trace id. maxSamples <= 0
// disables the sample-budget check.
func NewQuerySession(ctx context.Context, deadline time.Time, maxSamples int64) *QuerySession {
	return &QuerySession{
		Context:    ctx,
		TraceID:    uuid.New(),
		Deadline:   deadline,
		maxSamples: maxSamples,
	}
}

// CheckDeadline returns tserrors.ErrQueryTimeout once Deadline has passed,
// or the context's own error if it was canceled. Call at every node that
// pulls from an upstream RangeVectorStream or touches an I/O boundary.
func (s *QuerySession) CheckDeadline() error {
	if err := s.Context.Err(); err != nil {
		return err
	}
	if !s.Deadline.IsZero() && time.Now().After(s.Deadline) {
		return tserrors.ErrQueryTimeout
	}
	return nil
}

// AddSamples charges n samples against the session's shared budget,
// returning tserrors.ErrQueryLimitReached once the budget is exceeded.
// Safe for concurrent use by sibling nodes materializing in parallel.
func (s *QuerySession) AddSamples(n int64) error {
	if s.maxSamples <= 0 {
		return nil
	}
	if s.usedSamples.Add(n) > s.maxSamples {
		return tserrors.ErrQueryLimitReached
	}
	return nil
}

// UsedSamples returns the running total charged via AddSamples, for
// metrics/logging.
func (s *QuerySession) UsedSamples() int64 { return s.usedSamples.Load() }

// Dispatcher names where a node's children should run: in-process
// (LocalDispatcher) or remotely fanned out to another query host. Only
// LocalDispatcher is implemented; there is no remote dispatcher.
type Dispatcher interface {
	ID() string
}

// LocalDispatcher runs its node tree entirely within the current
// process.
type LocalDispatcher struct{}

func (LocalDispatcher) ID() string { return "local" }

// onceErr runs fn at most once and returns the cached error on every
// call; no node type in this package uses it.
type onceErr struct {
	once sync.Once
	err  error
}

func (o *onceErr) do(fn func() error) error {
	o.once.Do(func() { o.err = fn() })
	return o.err
}
