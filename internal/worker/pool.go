// Package worker runs detached background tasks on a fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"gradeflow/internal/logger"
)

// ErrQueueFull is returned by Submit when no slot is free
var ErrQueueFull = errors.New("worker queue is full")

// ErrStopped is returned by Submit after Shutdown
var ErrStopped = errors.New("worker pool stopped")

// Task is a unit of background work. The context carries the task timeout
// and is cancelled when the pool shuts down.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
	// OnPanic is called with the recovered value if Run panics
	OnPanic func(recovered interface{})
}

// Pool is a bounded worker pool
type Pool struct {
	tasks   chan Task
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts size workers reading from a queue of queueSize tasks
func NewPool(size, queueSize int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan Task, queueSize),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// Submit enqueues t without blocking
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Worker %d] panic in task %s: %v\n%s", id, t.Name, r, debug.Stack())
			if t.OnPanic != nil {
				t.OnPanic(r)
			}
		}
	}()

	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		logger.Warnf("[Worker %d] task %s failed after %v: %v", id, t.Name, time.Since(start), err)
		return
	}
	logger.Debugf("[Worker %d] task %s done in %v", id, t.Name, time.Since(start))
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
// If ctx expires first, running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
