package runner

import (
	"context"
	"sync"
)

type task func(ctx context.Context)

// workerPool runs tasks on a fixed number of goroutines fed by a bounded queue.
type workerPool struct {
	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(workers, capacity int) *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &workerPool{
		queue:  make(chan task, capacity),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.queue {
				t(p.ctx)
			}
		}()
	}
	go func() {
		p.wg.Wait()
		cancel()
		close(p.done)
	}()
	return p
}

// Submit queues t without blocking. It reports false when the queue is full
// or the pool is shutting down.
func (p *workerPool) Submit(t task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and lets queued ones drain.
func (p *workerPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// ForceCancel shuts down and cancels the context seen by running and queued tasks.
func (p *workerPool) ForceCancel() {
	p.Shutdown()
	p.cancel()
}

func (p *workerPool) Done() <-chan struct{} {
	return p.done
}
