package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one job. Returning an error makes the job eligible
// for the pool's retry policy.
type Handler func(ctx context.Context, job Job) error

// FailureHook receives jobs that failed processing, before any retry.
// Wired to the error tracker; must not block.
type FailureHook func(job Job, err error)

// RetryPolicy bounds how a pool redelivers failed jobs.
type RetryPolicy struct {
	// MaxAttempts is the total number of deliveries (first try
	// included). Zero or one means no retries.
	MaxAttempts int
	// Backoff delays the nth retry by n * Backoff.
	Backoff time.Duration
}

// DefaultRetryPolicy matches the queue runtime defaults: three
// deliveries with linear backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Second}

// Pool drains one queue with a fixed number of worker goroutines.
//
// Workers are non-blocking between jobs: each loop iteration either
// processes a ready job or waits on the queue's availability signal, a
// delayed-job timer, or context cancellation, whichever fires first.
type Pool struct {
	queue       *Queue
	handler     Handler
	concurrency int
	retry       RetryPolicy
	onFailure   FailureHook
	logger      *slog.Logger
}

// NewPool builds a pool over q. Concurrency below 1 is raised to 1; a
// nil logger discards.
func NewPool(q *Queue, handler Handler, concurrency int, retry RetryPolicy, onFailure FailureHook, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		retry:       retry,
		onFailure:   onFailure,
		logger:      logger,
	}
}

// Run starts the workers and blocks until the context is cancelled or
// the queue is closed and drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		job, ok := p.queue.TryDequeue()
		if ok {
			p.process(ctx, worker, job)
			continue
		}

		if p.queue.Closed() && p.queue.Len() == 0 {
			return
		}

		// Nothing ready: wait for a new job, the next delayed job
		// coming due, or cancellation.
		var timer <-chan time.Time
		if d, has := p.queue.NextDelay(); has {
			t := time.NewTimer(d)
			timer = t.C
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-p.queue.Wait():
				t.Stop()
			case <-timer:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.queue.Wait():
		}
	}
}

// process runs the handler with failure tracking and retry.
func (p *Pool) process(ctx context.Context, worker int, job Job) {
	err := p.handler(ctx, job)
	if err == nil {
		return
	}

	job.attempts++
	p.logger.Error("job failed",
		"queue", p.queue.Name(),
		"worker", worker,
		"step_id", job.StepID,
		"journey_id", job.JourneyID,
		"customer_id", job.CustomerID,
		"session", job.Session,
		"attempt", job.attempts,
		"error", err)

	if p.onFailure != nil {
		p.onFailure(job, err)
	}

	if p.retry.MaxAttempts > 1 && job.attempts < p.retry.MaxAttempts {
		p.queue.EnqueueAfter(job, time.Duration(job.attempts)*p.retry.Backoff)
	}
}
