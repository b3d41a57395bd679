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

// processMessage checks quiet hours and send limits, dispatches the
// message through the channel collaborator, records delivery status,
// and advances to the step's destination.
//
// Blocked sends follow the step's configured policy:
//   - QUIET_REQUEUE / LIMIT_REQUEUE: park and redeliver the job at a
//     computed future time.
//   - QUIET_ABORT: skip the send entirely and advance.
//   - LIMIT_HOLD: park at the current step, no advance, no redelivery;
//     the customer stays until something re-triggers the step.
func (e *Engine) processMessage(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location, log *slog.Logger) error {
	meta, ok := step.Meta.(journey.MessageMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want MessageMeta", step.ID, step.Meta)
	}

	now := e.clock.Now()

	if qh := meta.QuietHours; qh != nil {
		offset := e.offsets.UTCOffset(job.WorkspaceID)
		if inQuietHours(now, qh, offset) {
			switch qh.Policy {
			case journey.QuietAbort:
				log.Info("quiet hours, send aborted, advancing")
				return e.advance(ctx, job, jny, step, loc, meta.Destination)
			default: // QUIET_REQUEUE
				delay := untilQuietEnd(now, qh, offset)
				log.Info("quiet hours, requeueing", "delay", delay)
				if err := e.park(ctx, loc); err != nil {
					return err
				}
				return e.router.DispatchAfter(job, delay)
			}
		}
	}

	if sl := meta.SendLimit; sl != nil {
		blocked := false
		retryIn := time.Duration(0)

		if sl.PerMinute > 0 && !e.sendRate.Allow(job.JourneyID, sl.PerMinute, now) {
			blocked = true
			retryIn = e.sendRate.RetryIn(now)
		}

		alreadyMessaged := loc.MessageSent != nil && *loc.MessageSent
		if !blocked && sl.UniqueCustomers > 0 && !alreadyMessaged {
			messaged, err := e.store.UniqueCustomersMessaged(ctx, job.JourneyID)
			if err != nil {
				return fmt.Errorf("check unique-messaged limit: %w", err)
			}
			if messaged >= int64(sl.UniqueCustomers) {
				blocked = true
				retryIn = time.Minute
			}
		}

		if blocked {
			switch sl.Policy {
			case journey.LimitHold:
				log.Info("send limit reached, holding at step")
				return e.park(ctx, loc)
			default: // LIMIT_REQUEUE
				log.Info("send limit reached, requeueing", "delay", retryIn)
				if err := e.park(ctx, loc); err != nil {
					return err
				}
				return e.router.DispatchAfter(job, retryIn)
			}
		}
	}

	if e.sender != nil {
		err := e.sender.Send(ctx, Message{
			Template:     meta.Template,
			TemplateKind: meta.TemplateKind,
			WorkspaceID:  job.WorkspaceID,
			JourneyID:    job.JourneyID,
			StepID:       step.ID,
			CustomerID:   job.CustomerID,
			Session:      job.Session,
		})
		if err != nil {
			// Propagate: the queue retry policy owns redelivery, and the
			// held lock self-heals if retries exhaust.
			return fmt.Errorf("send message: %w", err)
		}
	}

	if e.events != nil {
		// Best-effort: a failed status record must not fail the send.
		err := e.events.Record(ctx, job.WorkspaceID, job.CustomerID, "message_sent", map[string]any{
			"template":   meta.Template,
			"kind":       string(meta.TemplateKind),
			"journey_id": job.JourneyID,
			"step_id":    step.ID,
		})
		if err != nil {
			log.Warn("recording delivery status failed", "error", err)
		}
	}

	if err := e.store.SetMessageSent(ctx, loc); err != nil {
		return err
	}
	return e.advance(ctx, job, jny, step, loc, meta.Destination)
}

// inQuietHours reports whether now falls in the quiet window. Start and
// End are workspace-local clock times; offset shifts now into that
// local time. Windows may wrap midnight.
func inQuietHours(now time.Time, qh *journey.QuietHoursSpec, offset time.Duration) bool {
	start, err := clockMinutes(qh.Start)
	if err != nil {
		return false
	}
	end, err := clockMinutes(qh.End)
	if err != nil {
		return false
	}

	local := now.UTC().Add(offset)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// untilQuietEnd returns the duration from now until the quiet window's
// end boundary in the workspace's local time.
func untilQuietEnd(now time.Time, qh *journey.QuietHoursSpec, offset time.Duration) time.Duration {
	end, err := clockMinutes(qh.End)
	if err != nil {
		return time.Hour
	}

	local := now.UTC().Add(offset)
	minute := local.Hour()*60 + local.Minute()

	until := end - minute
	if until <= 0 {
		until += 24 * 60
	}
	return time.Duration(until) * time.Minute
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
