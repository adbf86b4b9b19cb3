// Package pool provides a small fixed-size worker pool. It is a backpressure
// device against external capability rate limits: at most maxWorkers tasks
// run at once, and submissions beyond capacity queue without blocking the
// submitter.
package pool

import (
	"context"
	"sync"
)

type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a pool with the given concurrency bound
func New(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	return &Pool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Submit schedules fn for execution and returns immediately. fn waits for a
// free worker slot unless ctx is cancelled first, in which case it never runs.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-ctx.Done():
			return
		case p.sem <- struct{}{}:
		}
		defer func() { <-p.sem }()

		fn(ctx)
	}()
}

// Wait blocks until all submitted tasks have finished
func (p *Pool) Wait() {
	p.wg.Wait()
}
