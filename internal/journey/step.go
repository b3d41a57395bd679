package journey

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a step type. The kind selects which processor queue a
// customer's job is routed to and which Meta variant the step carries.
type Kind string

const (
	KindStart      Kind = "START"
	KindMessage    Kind = "MESSAGE"
	KindTimeDelay  Kind = "TIME_DELAY"
	KindTimeWindow Kind = "TIME_WINDOW"
	KindWaitUntil  Kind = "WAIT_UNTIL_BRANCH"
	KindMultisplit Kind = "MULTISPLIT"
	KindExperiment Kind = "EXPERIMENT"
	KindLoop       Kind = "LOOP"
	KindExit       Kind = "EXIT"

	// Reserved kinds. Accepted by the decoder so existing journey
	// definitions load, but no processor is registered for them.
	KindABTest          Kind = "AB_TEST"
	KindRandomCohort    Kind = "RANDOM_COHORT_BRANCH"
	KindTracker         Kind = "TRACKER"
	KindAttributeBranch Kind = "ATTRIBUTE_BRANCH"
)

// knownKinds is the exhaustive set of kinds the decoder accepts.
var knownKinds = map[Kind]bool{
	KindStart:           true,
	KindMessage:         true,
	KindTimeDelay:       true,
	KindTimeWindow:      true,
	KindWaitUntil:       true,
	KindMultisplit:      true,
	KindExperiment:      true,
	KindLoop:            true,
	KindExit:            true,
	KindABTest:          true,
	KindRandomCohort:    true,
	KindTracker:         true,
	KindAttributeBranch: true,
}

// Valid reports whether k is a known step kind.
func (k Kind) Valid() bool {
	return knownKinds[k]
}

// TimeGated reports whether a customer parks at this kind of step rather
// than being processed synchronously by the preceding processor. Parked
// customers are re-triggered later by the time-based scanner or by a
// matching event.
func (k Kind) TimeGated() bool {
	switch k {
	case KindTimeDelay, KindTimeWindow, KindWaitUntil:
		return true
	}
	return false
}

// Step is one node in a journey's directed graph.
type Step struct {
	ID          string `json:"id"`
	JourneyID   string `json:"journey_id"`
	WorkspaceID string `json:"workspace_id"`
	Kind        Kind   `json:"kind"`
	Meta        Meta   `json:"-"`
}

// stepWire is the raw JSON shape of a step, with metadata still encoded.
type stepWire struct {
	ID          string          `json:"id"`
	JourneyID   string          `json:"journey_id"`
	WorkspaceID string          `json:"workspace_id"`
	Kind        Kind            `json:"kind"`
	Metadata    json.RawMessage `json:"metadata"`
}

// UnmarshalJSON decodes a step and its kind-specific metadata variant.
// Unknown kinds are rejected.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}
	if !w.Kind.Valid() {
		return fmt.Errorf("decode step %s: unknown kind %q", w.ID, w.Kind)
	}

	meta, err := DecodeMeta(w.Kind, w.Metadata)
	if err != nil {
		return fmt.Errorf("decode step %s: %w", w.ID, err)
	}

	s.ID = w.ID
	s.JourneyID = w.JourneyID
	s.WorkspaceID = w.WorkspaceID
	s.Kind = w.Kind
	s.Meta = meta
	return nil
}

// MarshalJSON encodes a step with its metadata variant inlined under
// the "metadata" key.
func (s Step) MarshalJSON() ([]byte, error) {
	metaJSON, err := json.Marshal(s.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode step %s metadata: %w", s.ID, err)
	}
	return json.Marshal(stepWire{
		ID:          s.ID,
		JourneyID:   s.JourneyID,
		WorkspaceID: s.WorkspaceID,
		Kind:        s.Kind,
		Metadata:    metaJSON,
	})
}

// Journey is a directed graph of steps owned by a workspace.
type Journey struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Steps       []Step `json:"steps"`
}

// StepByID returns the step with the given id, or nil if the journey has
// no such step.
func (j *Journey) StepByID(id string) *Step {
	for i := range j.Steps {
		if j.Steps[i].ID == id {
			return &j.Steps[i]
		}
	}
	return nil
}

// StartStep returns the journey's single START step, or nil.
func (j *Journey) StartStep() *Step {
	for i := range j.Steps {
		if j.Steps[i].Kind == KindStart {
			return &j.Steps[i]
		}
	}
	return nil
}
