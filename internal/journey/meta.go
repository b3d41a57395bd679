package journey

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Meta is the kind-specific transition metadata carried by a step.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern enables exhaustive type switches in the step
// processors: every processor switches on the concrete variant matching
// its kind and treats anything else as a decode bug.
type Meta interface {
	metaNode()
}

// StartMeta configures a START step: the journey's single entry point.
// Destination is the first real step every enrolled customer moves to.
type StartMeta struct {
	Destination string `json:"destination"`
}

func (StartMeta) metaNode() {}

// QuietPolicy selects the behavior when a send falls inside quiet hours.
type QuietPolicy string

const (
	// QuietRequeue re-enqueues the job for the end of the quiet window.
	QuietRequeue QuietPolicy = "QUIET_REQUEUE"
	// QuietAbort skips the send and advances to the destination.
	QuietAbort QuietPolicy = "QUIET_ABORT"
)

// LimitPolicy selects the behavior when a send-rate limit blocks a send.
type LimitPolicy string

const (
	// LimitRequeue re-enqueues the job for a computed future time.
	LimitRequeue LimitPolicy = "LIMIT_REQUEUE"
	// LimitHold unlocks the customer at the current step without advancing.
	LimitHold LimitPolicy = "LIMIT_HOLD"
)

// QuietHoursSpec is a local-time daily window during which no messages
// are sent. Start and End are "HH:MM" in the workspace's local time; the
// workspace UTC offset converts them at evaluation time.
type QuietHoursSpec struct {
	Start  string      `json:"start"`
	End    string      `json:"end"`
	Policy QuietPolicy `json:"policy"`
}

// SendLimitSpec bounds message throughput for a journey.
type SendLimitSpec struct {
	PerMinute       int         `json:"per_minute,omitempty"`
	UniqueCustomers int         `json:"unique_customers,omitempty"`
	Policy          LimitPolicy `json:"policy"`
}

// TemplateKind identifies the message channel a template renders for.
type TemplateKind string

const (
	TemplateEmail   TemplateKind = "EMAIL"
	TemplateSMS     TemplateKind = "SMS"
	TemplatePush    TemplateKind = "PUSH"
	TemplateWebhook TemplateKind = "WEBHOOK"
)

// MessageMeta configures a MESSAGE step.
type MessageMeta struct {
	Template     string          `json:"template"`
	TemplateKind TemplateKind    `json:"template_kind"`
	Destination  string          `json:"destination"`
	QuietHours   *QuietHoursSpec `json:"quiet_hours,omitempty"`
	SendLimit    *SendLimitSpec  `json:"send_limit,omitempty"`
}

func (MessageMeta) metaNode() {}

// TimeDelayMeta configures a TIME_DELAY step. A customer advances only
// after Delay has elapsed since entering the step.
type TimeDelayMeta struct {
	Delay       Duration `json:"delay"`
	Destination string   `json:"destination"`
}

func (TimeDelayMeta) metaNode() {}

// TimeWindowMeta configures a TIME_WINDOW step. A customer advances only
// while the current time falls inside Window.
type TimeWindowMeta struct {
	Window      Window `json:"window"`
	Destination string `json:"destination"`
}

func (TimeWindowMeta) metaNode() {}

// EventBranch is one event-triggered branch of a WAIT_UNTIL_BRANCH step.
// Index is the branch number carried on triggering jobs.
type EventBranch struct {
	Index       int    `json:"index"`
	Event       string `json:"event"`
	Destination string `json:"destination"`
}

// TimeBranch is the timeout side of a WAIT_UNTIL_BRANCH step. Exactly one
// of Delay or Window is set; it is evaluated like TIME_DELAY/TIME_WINDOW.
type TimeBranch struct {
	Delay       *Duration `json:"delay,omitempty"`
	Window      *Window   `json:"window,omitempty"`
	Destination string    `json:"destination"`
}

// WaitUntilMeta configures a WAIT_UNTIL_BRANCH step: advance along a
// branch when a matching event arrives, or along TimeBranch on timeout.
type WaitUntilMeta struct {
	Branches   []EventBranch `json:"branches"`
	TimeBranch *TimeBranch   `json:"time_branch,omitempty"`
}

func (WaitUntilMeta) metaNode() {}

// QueryBranch is one conditional branch of a MULTISPLIT step. Query is a
// segmentation payload in the wire JSON format evaluated per customer.
type QueryBranch struct {
	Index       int             `json:"index"`
	Query       json.RawMessage `json:"query"`
	Destination string          `json:"destination"`
}

// MultisplitMeta configures a MULTISPLIT step: branches are evaluated in
// order, first match wins; AllOthers catches customers matching none.
type MultisplitMeta struct {
	Branches  []QueryBranch `json:"branches"`
	AllOthers string        `json:"all_others"`
}

func (MultisplitMeta) metaNode() {}

// RatioBranch is one weighted branch of an EXPERIMENT step.
type RatioBranch struct {
	Index       int     `json:"index"`
	Ratio       float64 `json:"ratio"`
	Destination string  `json:"destination"`
}

// ExperimentMeta configures an EXPERIMENT step: one uniform draw selects
// a branch by cumulative ratio. Ratios are expected to sum to at most 1;
// a draw past the cumulative sum selects no branch and the customer
// parks at the experiment step.
type ExperimentMeta struct {
	Branches []RatioBranch `json:"branches"`
}

func (ExperimentMeta) metaNode() {}

// LoopMeta configures a LOOP step: an unconditional jump, typically back
// to an earlier point in the graph.
type LoopMeta struct {
	Destination string `json:"destination"`
}

func (LoopMeta) metaNode() {}

// ExitMeta configures an EXIT step. Terminal; carries nothing.
type ExitMeta struct{}

func (ExitMeta) metaNode() {}

// ReservedMeta carries the raw metadata of a reserved (not yet
// implemented) step kind so definitions round-trip without loss.
type ReservedMeta struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (ReservedMeta) metaNode() {}

// DecodeMeta decodes raw step metadata into the variant matching kind.
// Unknown fields are rejected so malformed definitions fail at load time.
func DecodeMeta(kind Kind, raw json.RawMessage) (Meta, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	decode := func(dst any) error {
		if err := strictUnmarshal(raw, dst); err != nil {
			return fmt.Errorf("metadata for kind %s: %w", kind, err)
		}
		return nil
	}

	switch kind {
	case KindStart:
		var m StartMeta
		return m, decode(&m)
	case KindMessage:
		var m MessageMeta
		return m, decode(&m)
	case KindTimeDelay:
		var m TimeDelayMeta
		return m, decode(&m)
	case KindTimeWindow:
		var m TimeWindowMeta
		return m, decode(&m)
	case KindWaitUntil:
		var m WaitUntilMeta
		return m, decode(&m)
	case KindMultisplit:
		var m MultisplitMeta
		return m, decode(&m)
	case KindExperiment:
		var m ExperimentMeta
		return m, decode(&m)
	case KindLoop:
		var m LoopMeta
		return m, decode(&m)
	case KindExit:
		var m ExitMeta
		return m, decode(&m)
	case KindABTest, KindRandomCohort, KindTracker, KindAttributeBranch:
		return ReservedMeta{Raw: raw}, nil
	default:
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
}

// strictUnmarshal decodes JSON rejecting unknown fields.
func strictUnmarshal(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Destination returns the single unconditional destination of a meta
// variant, or "" when the variant has none (terminal, or branch-only).
func Destination(m Meta) string {
	switch v := m.(type) {
	case StartMeta:
		return v.Destination
	case MessageMeta:
		return v.Destination
	case TimeDelayMeta:
		return v.Destination
	case TimeWindowMeta:
		return v.Destination
	case LoopMeta:
		return v.Destination
	default:
		return ""
	}
}
