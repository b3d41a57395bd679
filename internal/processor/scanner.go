package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waypointhq/waypoint/internal/queue"
)

// Scanner is the time-based re-trigger: it periodically finds customers
// parked in time-gated steps and re-enqueues jobs so their gates get
// re-checked. Multiple scanners shard by customer hash, so
// (Index, Total) must be distinct per scanner and agree on Total.
type Scanner struct {
	Engine   *Engine
	Index    int
	Total    int
	Interval time.Duration
	Logger   *slog.Logger
}

// Run scans until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	log := s.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				log.Error("re-trigger scan failed", "error", err)
			}
		}
	}
}

// ScanOnce walks every journey's time-gated steps and dispatches one
// job per parked customer in this scanner's shard. Each re-trigger gets
// a fresh session id; the original traversal's session ended when the
// customer parked.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	e := s.Engine

	journeyIDs, err := e.store.JourneyIDs(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	for _, journeyID := range journeyIDs {
		jny, err := e.cache.Get(ctx, journeyID)
		if err != nil {
			return fmt.Errorf("scan journey %s: %w", journeyID, err)
		}

		var timedStepIDs []string
		for i := range jny.Steps {
			if jny.Steps[i].Kind.TimeGated() {
				timedStepIDs = append(timedStepIDs, jny.Steps[i].ID)
			}
		}
		if len(timedStepIDs) == 0 {
			continue
		}

		locations, err := e.store.ParkedInTimedSteps(ctx, journeyID, timedStepIDs, s.Index, s.Total)
		if err != nil {
			return fmt.Errorf("scan journey %s: %w", journeyID, err)
		}

		for _, loc := range locations {
			step := jny.StepByID(loc.StepID)
			if step == nil {
				continue
			}
			job := queue.Job{
				StepID:      loc.StepID,
				Kind:        step.Kind,
				WorkspaceID: loc.WorkspaceID,
				JourneyID:   journeyID,
				CustomerID:  loc.CustomerID,
				Session:     uuid.Must(uuid.NewV7()).String(),
				Branch:      queue.NoBranch,
			}
			if err := e.router.Dispatch(job); err != nil {
				return fmt.Errorf("scan journey %s: %w", journeyID, err)
			}
		}
	}
	return nil
}
