package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// processTimeDelay advances only once the configured delay has elapsed
// since the customer entered the step; otherwise the customer parks and
// the scanner re-checks later.
func (e *Engine) processTimeDelay(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location) error {
	meta, ok := step.Meta.(journey.TimeDelayMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want TimeDelayMeta", step.ID, step.Meta)
	}

	elapsed := e.clock.Now().UTC().Sub(time.UnixMilli(loc.StepEntry))
	if elapsed < meta.Delay.Std() {
		return e.park(ctx, loc)
	}
	return e.advance(ctx, job, jny, step, loc, meta.Destination)
}

// processTimeWindow advances only while the current time falls inside
// the step's window; otherwise the customer parks.
func (e *Engine) processTimeWindow(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location) error {
	meta, ok := step.Meta.(journey.TimeWindowMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want TimeWindowMeta", step.ID, step.Meta)
	}

	if !meta.Window.Contains(e.clock.Now()) {
		return e.park(ctx, loc)
	}
	return e.advance(ctx, job, jny, step, loc, meta.Destination)
}

// processWaitUntil routes by what woke the customer up: a triggering
// event advances along the matching event branch, a timeout advances
// along the time branch, anything else parks again.
func (e *Engine) processWaitUntil(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location, log *slog.Logger) error {
	meta, ok := step.Meta.(journey.WaitUntilMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want WaitUntilMeta", step.ID, step.Meta)
	}

	// Event re-trigger: the job names the event that fired.
	if job.Event != "" {
		for _, branch := range meta.Branches {
			if branch.Event == job.Event {
				return e.advance(ctx, job, jny, step, loc, branch.Destination)
			}
		}
		log.Debug("event matches no wait-until branch, parking", "event", job.Event)
		return e.park(ctx, loc)
	}

	// A pre-decided branch index (carried on the job) short-circuits.
	if job.Branch != queue.NoBranch {
		for _, branch := range meta.Branches {
			if branch.Index == job.Branch {
				return e.advance(ctx, job, jny, step, loc, branch.Destination)
			}
		}
		log.Warn("job branch index matches no wait-until branch, parking", "branch", job.Branch)
		return e.park(ctx, loc)
	}

	// Scanner re-trigger: check the timeout side.
	tb := meta.TimeBranch
	if tb == nil {
		return e.park(ctx, loc)
	}
	if tb.Delay != nil {
		elapsed := e.clock.Now().UTC().Sub(time.UnixMilli(loc.StepEntry))
		if elapsed < tb.Delay.Std() {
			return e.park(ctx, loc)
		}
		return e.advance(ctx, job, jny, step, loc, tb.Destination)
	}
	if tb.Window != nil {
		if !tb.Window.Contains(e.clock.Now()) {
			return e.park(ctx, loc)
		}
		return e.advance(ctx, job, jny, step, loc, tb.Destination)
	}
	return e.park(ctx, loc)
}
