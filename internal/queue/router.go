package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/waypointhq/waypoint/internal/journey"
)

// Router owns one queue per step kind and dispatches jobs to the queue
// matching the job's kind.
type Router struct {
	mu     sync.RWMutex
	queues map[journey.Kind]*Queue
}

// NewRouter returns a router with no queues registered.
func NewRouter() *Router {
	return &Router{queues: make(map[journey.Kind]*Queue)}
}

// Register creates (or returns the existing) queue for a step kind.
func (r *Router) Register(kind journey.Kind) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[kind]; ok {
		return q
	}
	q := New(string(kind))
	r.queues[kind] = q
	return q
}

// Queue returns the queue for a kind, or nil if none is registered.
func (r *Router) Queue(kind journey.Kind) *Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queues[kind]
}

// Dispatch validates the job and enqueues it on its kind's queue.
// A kind with no registered queue is an error: reserved step kinds have
// no processor, and routing such a job would strand the customer.
func (r *Router) Dispatch(j Job) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	q := r.Queue(j.Kind)
	if q == nil {
		return fmt.Errorf("dispatch: no queue registered for step kind %s", j.Kind)
	}
	if !q.Enqueue(j) {
		return fmt.Errorf("dispatch: queue %s is closed", q.Name())
	}
	return nil
}

// DispatchAfter is Dispatch with delayed delivery, used by quiet-hours
// and rate-limit requeues.
func (r *Router) DispatchAfter(j Job, delay time.Duration) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	q := r.Queue(j.Kind)
	if q == nil {
		return fmt.Errorf("dispatch: no queue registered for step kind %s", j.Kind)
	}
	if !q.EnqueueAfter(j, delay) {
		return fmt.Errorf("dispatch: queue %s is closed", q.Name())
	}
	return nil
}

// Close closes every registered queue.
func (r *Router) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.queues {
		q.Close()
	}
}

// Kinds returns the registered step kinds, sorted for stable iteration.
func (r *Router) Kinds() []journey.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]journey.Kind, 0, len(r.queues))
	for k := range r.queues {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
