package engine

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"agent-orchestrator/backend/internal/logging"
)

var (
	// ErrPoolSaturated is returned by Submit when the queue is full.
	ErrPoolSaturated = errors.New("worker pool saturated")
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task is a unit of work run by the pool.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
type Pool struct {
	queue  chan Task
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines sharing a queue of queueDepth tasks.
// Tasks receive a context that is cancelled by Shutdown.
func NewPool(workers, queueDepth int, logger *logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		queue:  make(chan Task, queueDepth),
		group:  g,
		ctx:    gctx,
		cancel: cancel,
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		g.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for task := range p.queue {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
		}
	}()
	task(p.ctx)
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx expires first, running tasks are cancelled and Shutdown
// returns ctx.Err() without waiting further.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
