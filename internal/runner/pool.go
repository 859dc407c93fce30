package runner

import (
	"context"
	"fmt"
	"sync"

	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/tracker"
)

const (
	poolSize    = 256
	poolWorkers = 4
)

// PoolOption is an option for a pool.
type PoolOption func(*Pool)

// WithPoolLogger is an option for a pool to set the logger.
func WithPoolLogger(log *logger.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = log
	}
}

// WithPoolQueueSize is an option for a pool to set the size of the queue.
func WithPoolQueueSize(size int) PoolOption {
	return func(p *Pool) {
		p.jobs = make(chan *Job, size)
		p.completed = make(chan *Job, size)
	}
}

// WithPoolWorkers is an option for a pool to set the number of workers.
func WithPoolWorkers(workers int) PoolOption {
	return func(p *Pool) {
		p.workers = workers
	}
}

// Pool runs background caching jobs. Caching is advisory: Submit never
// blocks the foreground, and when the queue is full the job is dropped
// with a log line rather than queued against the caller.
type Pool struct {
	name      string
	workers   int
	wg        sync.WaitGroup
	logger    *logger.Logger
	tracker   *tracker.Tracker
	jobs      chan *Job
	completed chan *Job
	done      <-chan struct{}
}

// NewPool creates a new job pool with the given options and starts its
// workers. Workers exit when ctx is done.
func NewPool(ctx context.Context, name string, opts ...PoolOption) *Pool {
	p := &Pool{
		name:      name,
		workers:   poolWorkers,
		logger:    logger.NewLogger(logger.WithName(name)),
		tracker:   tracker.NewTracker(name),
		jobs:      make(chan *Job, poolSize),
		completed: make(chan *Job, poolSize),
		done:      ctx.Done(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.tracker.Start()
	p.startWorkers(ctx)

	return p
}

func (p *Pool) startWorkers(ctx context.Context) {
	p.wg.Add(p.workers)
	for range p.workers {
		go p.worker(ctx)
	}
	go p.finalizer()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			p.logger.Debug("pool is closed, worker exiting")
			return
		case job := <-p.jobs:
			p.logger.Debug("worker running job", "job", job.Name())
			err := job.Run(ctx)
			p.tracker.Update(err)
			p.tracker.IncCurrent(1)

			select {
			case p.completed <- job:
			default:
				// Nobody is draining completions; log the outcome instead
				p.logger.Debug(
					"job completed, completed channel is full",
					"job", job.Name(),
					"status", job.Tracker().Status(),
					"error", job.Tracker().Err(),
				)
			}
		}
	}
}

func (p *Pool) finalizer() {
	p.wg.Wait()
	close(p.completed)
}

// Submit adds a new job to the pool without blocking. A full queue or a
// closed pool rejects the job.
func (p *Pool) Submit(job *Job) error {
	select {
	case <-p.done:
		p.logger.Debug("pool is closed, job rejected", "job", job.Name())
		return fmt.Errorf("pool is closed")
	default:
		select {
		case p.jobs <- job:
			p.logger.Debug("submitted job", "job", job.Name())
			p.tracker.IncTotal(1)
			return nil
		default:
			p.logger.Debug("jobs channel is full, job rejected", "job", job.Name())
			return fmt.Errorf("jobs channel is full")
		}
	}
}

// Wait blocks until a job is completed.
func (p *Pool) Wait() (*Job, error) {
	select {
	case job, ok := <-p.completed:
		if !ok {
			return nil, fmt.Errorf("completed channel is closed")
		}
		return job, nil
	case <-p.done:
		return nil, fmt.Errorf("pool is closed")
	}
}

// Completed returns the completed job channel.
// The channel is closed when the pool is closed.
func (p *Pool) Completed() <-chan *Job {
	return p.completed
}

// Tracker returns the tracker of the pool.
func (p *Pool) Tracker() *tracker.Tracker {
	return p.tracker
}
