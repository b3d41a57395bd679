// Package cache holds the read-through step-graph cache.
//
// The step graph is read-mostly: processors resolve destination steps on
// every job, but definitions change rarely. The cache is a best-effort
// accelerator over the store, never a source of truth: a load failure
// with a stale entry in hand serves the stale entry and logs, so a
// flaky read path cannot fail a step transition.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/waypointhq/waypoint/internal/journey"
)

// DefaultTTL is how long a cached journey definition is served before
// the next Get refreshes it from the source.
const DefaultTTL = time.Minute

// Source loads journey definitions. Satisfied by *store.Store.
type Source interface {
	GetJourney(ctx context.Context, id string) (*journey.Journey, error)
}

type entry struct {
	journey   *journey.Journey
	refreshed time.Time
}

// Journeys is a TTL read-through cache of journey definitions keyed by
// journey id. Safe for concurrent use.
type Journeys struct {
	src    Source
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// New returns a cache over src. A zero ttl means DefaultTTL. A nil
// logger discards.
func New(src Source, ttl time.Duration, logger *slog.Logger) *Journeys {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journeys{
		src:     src,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the journey definition, from cache when fresh, refreshed
// from the source when stale or absent. If the refresh fails but a
// stale entry exists, the stale entry is served and the failure logged;
// the error is only returned when there is nothing to fall back to.
func (c *Journeys) Get(ctx context.Context, id string) (*journey.Journey, error) {
	now := c.now()

	c.mu.RLock()
	cached, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && now.Sub(cached.refreshed) < c.ttl {
		return cached.journey, nil
	}

	j, err := c.src.GetJourney(ctx, id)
	if err != nil {
		if ok {
			c.logger.Warn("journey refresh failed, serving stale entry",
				"journey_id", id,
				"age", now.Sub(cached.refreshed),
				"error", err)
			return cached.journey, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = entry{journey: j, refreshed: now}
	c.mu.Unlock()
	return j, nil
}

// Step returns one step of a journey by id, or nil if the journey has
// no such step. The nil return (not an error) is what destination
// resolution keys off: a dangling destination parks the customer.
func (c *Journeys) Step(ctx context.Context, journeyID, stepID string) (*journey.Step, error) {
	j, err := c.Get(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	return j.StepByID(stepID), nil
}

// Invalidate drops the cached entry for a journey. Called after a
// definition write.
func (c *Journeys) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
