package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for tests.
//
// Time only moves when a test calls Advance or Set, so lock timeouts,
// time gates, and quiet-hour checks become deterministic: the same
// scenario produces the same parking and wake decisions on every run.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current time without advancing it.
//
// The method value (clock.Now) is what store.SetClock takes, and the
// clock itself satisfies the processor's Clock interface.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d. Negative durations move it
// backward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set jumps the clock to an absolute instant.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
