package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// TriggerEvent records a customer event and wakes the customer up in
// every journey where they are parked at a WAIT_UNTIL_BRANCH step
// listening for this event. The dispatched job carries the event name
// so the wait-until processor advances along the matching branch.
func (e *Engine) TriggerEvent(ctx context.Context, workspaceID, customerID, name string, payload map[string]any) error {
	if err := e.store.RecordEvent(ctx, workspaceID, customerID, name, payload, e.clock.Now()); err != nil {
		return fmt.Errorf("trigger event: %w", err)
	}

	journeyIDs, err := e.store.JourneyIDs(ctx)
	if err != nil {
		return fmt.Errorf("trigger event: %w", err)
	}

	for _, journeyID := range journeyIDs {
		loc, err := e.store.Find(ctx, journeyID, customerID)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("trigger event: %w", err)
		}
		if loc.WorkspaceID != workspaceID || loc.Locked(e.clock.Now(), e.store.LockTimeout) {
			continue
		}

		jny, err := e.cache.Get(ctx, journeyID)
		if err != nil {
			return fmt.Errorf("trigger event: %w", err)
		}
		step := jny.StepByID(loc.StepID)
		if step == nil || step.Kind != journey.KindWaitUntil {
			continue
		}
		meta, ok := step.Meta.(journey.WaitUntilMeta)
		if !ok {
			continue
		}

		listening := false
		for _, branch := range meta.Branches {
			if branch.Event == name {
				listening = true
				break
			}
		}
		if !listening {
			continue
		}

		job := queue.Job{
			StepID:      loc.StepID,
			Kind:        step.Kind,
			WorkspaceID: workspaceID,
			JourneyID:   journeyID,
			CustomerID:  customerID,
			Session:     uuid.Must(uuid.NewV7()).String(),
			Event:       name,
			Branch:      queue.NoBranch,
		}
		if err := e.router.Dispatch(job); err != nil {
			return fmt.Errorf("trigger event: %w", err)
		}
	}
	return nil
}
