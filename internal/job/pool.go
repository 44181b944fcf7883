package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool submission errors.
var (
	ErrPoolClosed    = errors.New("job: pool is closed")
	ErrQueueFull     = errors.New("job: submission queue is full")
	ErrPoolOverloaded = errors.New("job: pool is overloaded")
)

// Task is the unit of work a Pool runs: it is handed the job ID so it can
// report progress/cancellation back through the Manager.
type Task func(ctx context.Context, jobID string) (result any, err error)

// Pool runs submitted tasks with bounded concurrency. Cancellation is
// cooperative: inflight tasks finish, but no new ones start once the pool
// is closed or a job is cancelled.
type Pool struct {
	manager *Manager
	sem     *semaphore.Weighted
	queue   chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool builds a Pool bounded to maxConcurrency inflight tasks and a
// submission queue of maxQueued pending slots.
func NewPool(manager *Manager, maxConcurrency, maxQueued int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if maxQueued <= 0 {
		maxQueued = maxConcurrency * 4
	}
	return &Pool{
		manager: manager,
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		queue:   make(chan struct{}, maxQueued),
	}
}

// Submit starts a job and runs task in the background, bounded by the
// pool's concurrency limit. It returns immediately with the job's ID once
// the task has been queued, or an error if the pool cannot accept it.
func (p *Pool) Submit(ctx context.Context, jobType Type, task Task) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.queue <- struct{}{}:
	default:
		return "", ErrQueueFull
	}

	id := p.manager.CreateJob(jobType)
	p.wg.Add(1)
	go p.run(ctx, id, task)
	return id, nil
}

func (p *Pool) run(ctx context.Context, id string, task Task) {
	defer p.wg.Done()
	defer func() { <-p.queue }()

	if p.manager.IsCancelled(id) {
		return
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		_ = p.manager.Fail(id, fmt.Errorf("job: %w: %v", ErrPoolOverloaded, err))
		return
	}
	defer p.sem.Release(1)

	if err := p.manager.Start(id); err != nil {
		return
	}

	result, err := task(ctx, id)
	if err != nil {
		_ = p.manager.Fail(id, err)
		return
	}
	_ = p.manager.Complete(id, result)
}

// Close stops accepting new submissions and waits for inflight tasks to
// finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
