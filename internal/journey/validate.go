package journey

import (
	"encoding/json"
	"fmt"
)

// Validate checks a journey's step graph before activation:
//
//   - exactly one START step
//   - step ids unique within the journey
//   - every destination (including branch destinations) resolves to a
//     step in the same journey, or is absent (terminal)
//   - every window specification is well-formed
//
// Steps are immutable once the journey is active; validation runs at
// definition load time, not in the processing hot path.
func Validate(j *Journey) error {
	ids := make(map[string]bool, len(j.Steps))
	starts := 0
	for i := range j.Steps {
		s := &j.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("journey %s: step %d has no id", j.ID, i)
		}
		if ids[s.ID] {
			return fmt.Errorf("journey %s: duplicate step id %s", j.ID, s.ID)
		}
		ids[s.ID] = true
		if s.Kind == KindStart {
			starts++
		}
	}
	if starts != 1 {
		return fmt.Errorf("journey %s: want exactly one START step, have %d", j.ID, starts)
	}

	for i := range j.Steps {
		s := &j.Steps[i]
		for _, dest := range destinations(s.Meta) {
			if dest != "" && !ids[dest] {
				return fmt.Errorf("journey %s: step %s: destination %s not in journey", j.ID, s.ID, dest)
			}
		}
		if err := validateMeta(s); err != nil {
			return fmt.Errorf("journey %s: step %s: %w", j.ID, s.ID, err)
		}
	}
	return nil
}

// destinations collects every destination a meta variant can route to.
func destinations(m Meta) []string {
	switch v := m.(type) {
	case StartMeta:
		return []string{v.Destination}
	case MessageMeta:
		return []string{v.Destination}
	case TimeDelayMeta:
		return []string{v.Destination}
	case TimeWindowMeta:
		return []string{v.Destination}
	case WaitUntilMeta:
		var dests []string
		for _, b := range v.Branches {
			dests = append(dests, b.Destination)
		}
		if v.TimeBranch != nil {
			dests = append(dests, v.TimeBranch.Destination)
		}
		return dests
	case MultisplitMeta:
		var dests []string
		for _, b := range v.Branches {
			dests = append(dests, b.Destination)
		}
		dests = append(dests, v.AllOthers)
		return dests
	case ExperimentMeta:
		var dests []string
		for _, b := range v.Branches {
			dests = append(dests, b.Destination)
		}
		return dests
	case LoopMeta:
		return []string{v.Destination}
	default:
		return nil
	}
}

// validateMeta applies per-kind structural checks beyond destination
// resolution.
func validateMeta(s *Step) error {
	switch v := s.Meta.(type) {
	case StartMeta:
		if v.Destination == "" {
			return fmt.Errorf("START requires a destination")
		}
	case TimeDelayMeta:
		if v.Delay.IsZero() {
			return fmt.Errorf("TIME_DELAY requires a non-zero delay")
		}
	case TimeWindowMeta:
		if err := v.Window.Validate(); err != nil {
			return err
		}
	case WaitUntilMeta:
		if len(v.Branches) == 0 && v.TimeBranch == nil {
			return fmt.Errorf("WAIT_UNTIL_BRANCH requires branches or a time branch")
		}
		for _, b := range v.Branches {
			if b.Event == "" {
				return fmt.Errorf("wait-until branch %d has no event", b.Index)
			}
		}
		if v.TimeBranch != nil {
			if (v.TimeBranch.Delay == nil) == (v.TimeBranch.Window == nil) {
				return fmt.Errorf("time branch requires exactly one of delay or window")
			}
			if v.TimeBranch.Window != nil {
				if err := v.TimeBranch.Window.Validate(); err != nil {
					return err
				}
			}
		}
	case MultisplitMeta:
		for _, b := range v.Branches {
			if len(b.Query) == 0 || string(b.Query) == "null" {
				return fmt.Errorf("multisplit branch %d has no query", b.Index)
			}
			if !json.Valid(b.Query) {
				return fmt.Errorf("multisplit branch %d query is not valid JSON", b.Index)
			}
		}
	case ExperimentMeta:
		if len(v.Branches) == 0 {
			return fmt.Errorf("EXPERIMENT requires at least one branch")
		}
		sum := 0.0
		for _, b := range v.Branches {
			if b.Ratio < 0 || b.Ratio > 1 {
				return fmt.Errorf("experiment branch %d ratio %v out of [0,1]", b.Index, b.Ratio)
			}
			sum += b.Ratio
		}
		if sum > 1.000001 {
			return fmt.Errorf("experiment branch ratios sum to %v, must be <= 1", sum)
		}
	case LoopMeta:
		if v.Destination == "" {
			return fmt.Errorf("LOOP requires a destination")
		}
	}
	return nil
}
