package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const jobTimeout = 30 * time.Second

type MemoryOptions struct {
	BufferSize int
	Workers    int
	Retry      RetryPolicy
}

// MemoryQueue is an in-process queue backed by a buffered channel. Jobs still
// buffered or waiting for a retry when the process exits are lost.
type MemoryQueue struct {
	handler Handler
	opts    MemoryOptions
	log     *zap.Logger
	obs     Observer

	mu     sync.RWMutex
	closed bool
	jobs   chan Job
	wg     sync.WaitGroup
	start  sync.Once
}

func NewMemoryQueue(h Handler, opts MemoryOptions, log *zap.Logger, obs Observer) *MemoryQueue {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &MemoryQueue{
		handler: h,
		opts:    opts,
		log:     log,
		obs:     obs,
		jobs:    make(chan Job, opts.BufferSize),
	}
}

// Start launches the worker goroutines. Calling it more than once is a no-op.
func (q *MemoryQueue) Start(_ context.Context) {
	q.start.Do(func() {
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.worker()
		}
	})
}

// Enqueue never blocks: a full buffer is reported as ErrQueueFull.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return q.push(job)
}

func (q *MemoryQueue) push(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		q.obs.JobDropped(job.Type)
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for buffered jobs to drain.
func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.log.Warn("queue shutdown timed out; some jobs may be lost")
		return ctx.Err()
	}
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(job)
	}
}

func (q *MemoryQueue) process(job Job) {
	job.Attempt++

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	err := q.handler.Handle(ctx, job)
	cancel()

	if err == nil {
		q.obs.JobProcessed(job.Type, OutcomeSuccess)
		return
	}

	if !q.opts.Retry.ShouldRetry(job.Attempt, err) {
		q.obs.JobProcessed(job.Type, OutcomeFailed)
		q.log.Error("job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return
	}

	q.obs.JobProcessed(job.Type, OutcomeRetry)
	delay := q.opts.Retry.Delay(job.Attempt)
	q.log.Warn("job failed, scheduling retry",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	)

	time.AfterFunc(delay, func() {
		if err := q.push(job); err != nil {
			q.log.Error("dropping job retry",
				zap.String("job_id", job.ID),
				zap.String("job_type", job.Type),
				zap.Error(err),
			)
		}
	})
}
