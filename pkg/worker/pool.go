// Package worker runs fire-and-forget jobs on a fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ellachat/ella/pkg/logger"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("worker: queue full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker: pool stopped")

// Job is a unit of work. It receives a background context; jobs that need
// request values should capture context.WithoutCancel of the caller's.
type Job func(ctx context.Context)

// Pool manages a pool of goroutines draining a bounded queue.
type Pool struct {
	name    string
	workers int
	log     logger.Logger

	// mu guards jobs against a send racing the close in Stop.
	mu   sync.RWMutex
	jobs chan Job

	// State
	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Metrics
	processed atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// New creates a pool. Non-positive sizes fall back to one worker and a queue
// of one.
func New(name string, workers, queueSize int, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		name:    name,
		workers: workers,
		log:     log.With("pool", name),
		jobs:    make(chan Job, queueSize),
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stop rejects new jobs, runs everything already queued, and waits for the
// workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.running.Store(false)
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

// run executes a single job, recovering panics so the worker survives.
func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("worker: job panicked", "panic", r)
		}
	}()

	job(context.Background())
	p.processed.Add(1)
}

// Processed returns the number of jobs that completed without panicking.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Dropped returns the number of jobs rejected because the queue was full.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Panics returns the number of jobs that panicked.
func (p *Pool) Panics() int64 { return p.panics.Load() }

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int { return len(p.jobs) }

// IsRunning returns true between Start and Stop.
func (p *Pool) IsRunning() bool { return p.running.Load() }
