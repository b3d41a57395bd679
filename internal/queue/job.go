// Package queue provides the per-step-type job queues, the router that
// dispatches jobs to them, and the worker pools that drain them.
//
// Queue and step kind are in 1:1 correspondence: a MESSAGE job only ever
// lands on the MESSAGE queue, consumed by the MESSAGE processor pool.
// Queues are unbounded so a burst of fan-out (bulk enrollment, loops)
// never blocks the enqueuing processor.
package queue

import (
	"fmt"

	"github.com/waypointhq/waypoint/internal/journey"
)

// Job is one unit of step-processor work: "run step S for customer C in
// journey J". The session id correlates every job in one customer's
// traversal for logging.
type Job struct {
	StepID      string
	Kind        journey.Kind
	WorkspaceID string
	JourneyID   string
	CustomerID  string
	Session     string

	// Event carries the triggering event name for WAIT_UNTIL_BRANCH
	// re-triggers; empty otherwise.
	Event string

	// Branch is the branch index a WAIT_UNTIL_BRANCH or EXPERIMENT
	// decision already took, or NoBranch.
	Branch int

	// StepDepth counts transitions since enrollment. Deeper jobs are
	// older traversals; the scheduler lets them drain first.
	StepDepth int

	// attempts counts processing failures; managed by the worker pool.
	attempts int
}

// NoBranch marks a job that carries no branch decision.
const NoBranch = -1

// NewJob builds a job with Branch defaulted to NoBranch.
func NewJob(step *journey.Step, customerID, session string, stepDepth int) Job {
	return Job{
		StepID:      step.ID,
		Kind:        step.Kind,
		WorkspaceID: step.WorkspaceID,
		JourneyID:   step.JourneyID,
		CustomerID:  customerID,
		Session:     session,
		Branch:      NoBranch,
		StepDepth:   stepDepth,
	}
}

// Validate checks the fields every processor relies on.
func (j Job) Validate() error {
	switch {
	case j.StepID == "":
		return fmt.Errorf("job missing step id")
	case !j.Kind.Valid():
		return fmt.Errorf("job for step %s has unknown kind %q", j.StepID, j.Kind)
	case j.WorkspaceID == "":
		return fmt.Errorf("job for step %s missing workspace id", j.StepID)
	case j.JourneyID == "":
		return fmt.Errorf("job for step %s missing journey id", j.StepID)
	case j.CustomerID == "":
		return fmt.Errorf("job for step %s missing customer id", j.StepID)
	}
	return nil
}

// Attempts returns how many times the job has failed processing.
func (j Job) Attempts() int {
	return j.attempts
}
