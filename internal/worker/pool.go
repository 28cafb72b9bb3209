// Package worker provides the bounded pool that bus handlers hand slow work
// to. Dispatch on the bus is synchronous, so a handler that fetched market
// data or waited on the database inline would stall every publisher; instead
// it submits here and returns.
package worker

import (
	"context"
	"sync"

	"pricegov/internal/obs"
	"pricegov/internal/telemetry"
)

// Task is a unit of queued work. The context passed in carries the pool's
// lifetime, so cancellation propagates into queued tasks.
type Task func(ctx context.Context)

// Pool runs a fixed number of workers draining a bounded task buffer.
type Pool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool with the given worker count and task buffer size.
func NewPool(workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Pool{workers: workers, tasks: make(chan Task, buffer)}
}

// Start launches the workers. Tasks submitted before Start sit in the buffer.
func (p *Pool) Start(parent context.Context) {
	p.ctx, p.cancel = context.WithCancel(parent)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			obs.Logger.Error("pool task panicked", "panic", r)
		}
	}()
	task(p.ctx)
}

// Submit queues a task without blocking. It reports false when the buffer is
// full or the pool is stopped; callers log and count the drop.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return true
	default:
		telemetry.PoolDrops.Inc()
		return false
	}
}

// Stop cancels in-flight tasks and waits for workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
