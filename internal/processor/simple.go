package processor

import (
	"context"
	"fmt"

	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// processStart advances unconditionally to the start step's
// destination. Enrollment created the location locked at this step.
func (e *Engine) processStart(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location) error {
	meta, ok := step.Meta.(journey.StartMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want StartMeta", step.ID, step.Meta)
	}
	return e.advance(ctx, job, jny, step, loc, meta.Destination)
}

// processLoop advances unconditionally; loop destinations typically
// point back to an earlier time-gated step, which parks the customer
// and keeps the cycle from running synchronously.
func (e *Engine) processLoop(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location) error {
	meta, ok := step.Meta.(journey.LoopMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want LoopMeta", step.ID, step.Meta)
	}
	return e.advance(ctx, job, jny, step, loc, meta.Destination)
}

// processExit is terminal: unlock at the exit step and stop.
func (e *Engine) processExit(ctx context.Context, step *journey.Step, loc *store.Location) error {
	return e.store.Unlock(ctx, loc, step.ID)
}
