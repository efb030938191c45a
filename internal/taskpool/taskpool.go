// Package taskpool implements spec.md §5's "two logical pools" model: a
// bounded I/O pool for remote-store interactions and flushes, and a
// bounded compute pool for query evaluation and downsampling. Grounded
// on the teacher's own preference for plain goroutines plus
// golang.org/x/sync/errgroup over a custom executor abstraction - no
// "Executor" type exists anywhere in the teacher's query or storage path,
// so Pool is intentionally a thin semaphore wrapper rather than a queue
// with its own worker goroutines.
package taskpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds how many tasks submitted through it may run concurrently.
// Zero value is usable with an unbounded (capacity 0 means "no limit")
// pool; construct with New for a bounded one.
type Pool struct {
	sem chan struct{}
}

// New returns a Pool that admits at most size concurrent tasks. size <= 0
// means unbounded.
func New(size int) *Pool {
	if size <= 0 {
		return &Pool{}
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go runs fn, blocking until a slot is free if the pool is bounded and
// full, and returns fn's error. Honors ctx cancellation while waiting for
// a slot.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error) error {
	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fn(ctx)
}

// Batch runs every fn in tasks concurrently, each still bounded by the
// pool's capacity, returning the first error encountered (others are
// still allowed to finish; this is a thin wrapper over errgroup so
// cancellation propagates to a context-aware fn).
func (p *Pool) Batch(ctx context.Context, tasks []func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return p.Go(gctx, task)
		})
	}
	return g.Wait()
}

// Pools bundles the I/O and compute pools spec.md §5 names, built once
// from config.Settings and threaded down to the storage and query layers
// (spec.md §9 design note against a global singleton - this is just a
// plain value, not a package-level var).
type Pools struct {
	IO      *Pool
	Compute *Pool
}

// NewPools builds the I/O and compute pools from their configured sizes.
func NewPools(ioPoolSize, computePoolSize int) Pools {
	return Pools{IO: New(ioPoolSize), Compute: New(computePoolSize)}
}
