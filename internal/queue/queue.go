package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Queue is a thread-safe FIFO job queue with optional delayed delivery.
//
// The queue is unbounded so cascading step transitions can enqueue
// arbitrarily many follow-up jobs without blocking the processor that
// produced them.
//
// Delayed jobs (quiet-hours and rate-limit requeues) sit in a ready-time
// heap and join the FIFO once due; ordering among simultaneously-due
// jobs is their enqueue order.
//
// There is no depth-based priority inside a queue: one queue serves one
// step kind, so deep and shallow customers never compete for the same
// workers, which is the starvation the depth buckets existed to prevent.
// Jobs still carry StepDepth for observability.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in worker loops (prevents goroutine hangs on context cancellation).
type Queue struct {
	name string

	mu      sync.Mutex
	jobs    []Job
	delayed delayHeap
	closed  bool
	signal  chan struct{} // Signals job availability (buffered, size 1)

	now func() time.Time
}

// New creates an empty queue. The name is the step kind it serves.
func New(name string) *Queue {
	return &Queue{
		name:   name,
		jobs:   make([]Job, 0, 64), // Pre-allocate for typical workloads
		signal: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue adds a job to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)
	q.wake()
	return true
}

// EnqueueAfter schedules a job for delivery no earlier than delay from
// now. A non-positive delay enqueues immediately.
// Returns false if the queue is closed.
func (q *Queue) EnqueueAfter(j Job, delay time.Duration) bool {
	if delay <= 0 {
		return q.Enqueue(j)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	heap.Push(&q.delayed, delayedJob{job: j, readyAt: q.now().Add(delay), seq: q.delayed.nextSeq()})
	return true
}

// TryDequeue attempts to dequeue without blocking, promoting any due
// delayed jobs first. Returns (Job{}, false) if nothing is ready.
func (q *Queue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteDue(q.now())

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	j := q.jobs[0]

	// Nil out the slot so the backing array does not retain the job's
	// strings until reallocation.
	q.jobs[0] = Job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}

	return j, true
}

// NextDelay returns how long until the earliest delayed job is due, and
// whether any delayed job exists. Zero duration means due now.
func (q *Queue) NextDelay() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.delayed) == 0 {
		return 0, false
	}
	d := q.delayed[0].readyAt.Sub(q.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Wait returns a channel that signals when jobs may be available.
// Use with select for context-aware waiting.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of jobs currently queued, delayed included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) + len(q.delayed)
}

// Close signals that no more jobs will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether the queue has been closed.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// promoteDue moves due delayed jobs onto the FIFO. Caller holds q.mu.
func (q *Queue) promoteDue(now time.Time) {
	for len(q.delayed) > 0 && !q.delayed[0].readyAt.After(now) {
		dj := heap.Pop(&q.delayed).(delayedJob)
		q.jobs = append(q.jobs, dj.job)
	}
}

// wake signals availability without blocking; the buffer of 1 coalesces
// multiple signals. Caller holds q.mu.
func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

type delayedJob struct {
	job     Job
	readyAt time.Time
	seq     uint64 // enqueue order tiebreak for equal ready times
}

type delayHeap []delayedJob

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}
func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)   { *h = append(*h, x.(delayedJob)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	dj := old[n-1]
	old[n-1] = delayedJob{}
	*h = old[:n-1]
	return dj
}

func (h delayHeap) nextSeq() uint64 {
	var next uint64
	for _, dj := range h {
		if dj.seq >= next {
			next = dj.seq + 1
		}
	}
	return next
}
