package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/desbank/pkg/utils/pool"
	"github.com/m-mizutani/gt"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	p := pool.New(2)

	var running, peak, done int32
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		p.Submit(ctx, func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&done, 1)
		})
	}

	p.Wait()
	gt.Equal(t, atomic.LoadInt32(&done), int32(10))
	mu.Lock()
	defer mu.Unlock()
	gt.True(t, peak <= 2)
}

func TestPoolSubmitNeverBlocks(t *testing.T) {
	ctx := context.Background()
	p := pool.New(1)

	release := make(chan struct{})
	p.Submit(ctx, func(ctx context.Context) { <-release })

	// Submissions beyond capacity must return immediately
	start := time.Now()
	for i := 0; i < 5; i++ {
		p.Submit(ctx, func(ctx context.Context) {})
	}
	gt.True(t, time.Since(start) < time.Second)

	close(release)
	p.Wait()
}

func TestPoolCancelledContextSkipsQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := pool.New(1)

	release := make(chan struct{})
	var ran int32

	p.Submit(context.Background(), func(ctx context.Context) { <-release })
	p.Submit(ctx, func(ctx context.Context) { atomic.AddInt32(&ran, 1) })

	cancel()
	// Give the queued goroutine time to observe cancellation while the
	// worker slot is still held, then unblock the running task.
	time.Sleep(50 * time.Millisecond)
	close(release)
	p.Wait()

	gt.Equal(t, atomic.LoadInt32(&ran), int32(0))
}

func TestPoolDefaultSize(t *testing.T) {
	p := pool.New(0)
	var ran int32
	p.Submit(context.Background(), func(ctx context.Context) { atomic.AddInt32(&ran, 1) })
	p.Wait()
	gt.Equal(t, atomic.LoadInt32(&ran), int32(1))
}
