package processor

import (
	"context"
	"time"

	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// Message is one outbound send handed to the message-channel
// collaborator.
type Message struct {
	Template     string
	TemplateKind journey.TemplateKind
	WorkspaceID  string
	JourneyID    string
	StepID       string
	CustomerID   string
	Session      string
}

// Sender dispatches messages through the external channel providers
// (email, SMS, push, webhook). Implementations live outside this core.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// EventSink records delivery status and other engine-emitted events.
// Satisfied by an adapter over the store's event table.
type EventSink interface {
	Record(ctx context.Context, workspaceID, customerID, name string, payload map[string]any) error
}

// StoreEventSink records events into the store's event table, where the
// query backend can aggregate them.
type StoreEventSink struct {
	Store *store.Store
}

// Record appends the event with the current time.
func (s *StoreEventSink) Record(ctx context.Context, workspaceID, customerID, name string, payload map[string]any) error {
	return s.Store.RecordEvent(ctx, workspaceID, customerID, name, payload, time.Now())
}

// ErrorTracker receives job failures from the queue runtime's failure
// hook, tagged with enough context to triage.
type ErrorTracker interface {
	Capture(err error, tags map[string]string)
}

// WorkspaceDirectory supplies per-workspace settings the processors
// need; today that is only the UTC offset used to evaluate
// journey-configured local quiet hours.
type WorkspaceDirectory interface {
	UTCOffset(workspaceID string) time.Duration
}

// StaticOffsets is a WorkspaceDirectory backed by a fixed map. Unknown
// workspaces evaluate at UTC.
type StaticOffsets map[string]time.Duration

// UTCOffset returns the workspace's offset from UTC.
func (s StaticOffsets) UTCOffset(workspaceID string) time.Duration {
	return s[workspaceID]
}

// FailureHook adapts an ErrorTracker to the queue runtime's failure
// hook, tagging each capture with the failing job's coordinates.
func FailureHook(tracker ErrorTracker) queue.FailureHook {
	if tracker == nil {
		return nil
	}
	return func(job queue.Job, err error) {
		tracker.Capture(err, map[string]string{
			"step_id":     job.StepID,
			"step_kind":   string(job.Kind),
			"journey_id":  job.JourneyID,
			"customer_id": job.CustomerID,
			"session":     job.Session,
		})
	}
}
