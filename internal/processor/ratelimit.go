package processor

import (
	"sync"
	"time"
)

// MinuteLimiter counts sends per key per wall-clock minute. Keys are
// journey ids; the limit comes from each MESSAGE step's send-limit
// metadata, so one limiter serves every journey.
type MinuteLimiter struct {
	mu     sync.Mutex
	window time.Time // start of the minute the counts belong to
	counts map[string]int
}

// NewMinuteLimiter returns an empty limiter.
func NewMinuteLimiter() *MinuteLimiter {
	return &MinuteLimiter{counts: map[string]int{}}
}

// Allow reports whether another send is permitted for key under limit
// this minute, and counts it if so. A limit of zero or less means
// unlimited.
func (l *MinuteLimiter) Allow(key string, limit int, now time.Time) bool {
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	minute := now.UTC().Truncate(time.Minute)
	if !minute.Equal(l.window) {
		l.window = minute
		clear(l.counts)
	}

	if l.counts[key] >= limit {
		return false
	}
	l.counts[key]++
	return true
}

// RetryIn returns how long until the current minute window rolls over,
// which is when a limited send becomes eligible again.
func (l *MinuteLimiter) RetryIn(now time.Time) time.Duration {
	next := now.UTC().Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now.UTC())
}
