package journey

import (
	"fmt"
	"time"
)

// Window describes when a TIME_WINDOW step lets customers through.
//
// Exactly one of the two specifications is set:
//   - Weekly: a recurring day-of-week + time-of-day window
//   - Absolute: a one-shot [From, To) instant range
//
// Setting both, or neither, is a definition error caught by Validate.
type Window struct {
	Weekly   *WeeklyWindow   `json:"weekly,omitempty"`
	Absolute *AbsoluteWindow `json:"absolute,omitempty"`
}

// WeeklyWindow is a recurring window: on any of Days, between Start and
// End ("HH:MM", evaluated in UTC). Windows may wrap midnight, in which
// case the day is taken from the window's start.
type WeeklyWindow struct {
	Days  []time.Weekday `json:"days"`
	Start string         `json:"start"`
	End   string         `json:"end"`
}

// AbsoluteWindow is a one-shot window between two instants.
type AbsoluteWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Validate checks that exactly one window specification is present and
// well-formed.
func (w Window) Validate() error {
	switch {
	case w.Weekly != nil && w.Absolute != nil:
		return fmt.Errorf("time window: weekly and absolute are mutually exclusive")
	case w.Weekly == nil && w.Absolute == nil:
		return fmt.Errorf("time window: one of weekly or absolute is required")
	}
	if w.Weekly != nil {
		if len(w.Weekly.Days) == 0 {
			return fmt.Errorf("time window: weekly window requires at least one day")
		}
		if _, err := parseClock(w.Weekly.Start); err != nil {
			return fmt.Errorf("time window: start: %w", err)
		}
		if _, err := parseClock(w.Weekly.End); err != nil {
			return fmt.Errorf("time window: end: %w", err)
		}
	}
	if w.Absolute != nil && !w.Absolute.To.After(w.Absolute.From) {
		return fmt.Errorf("time window: absolute window to must be after from")
	}
	return nil
}

// Contains reports whether now falls inside the window. now is compared
// in UTC.
func (w Window) Contains(now time.Time) bool {
	now = now.UTC()

	if w.Absolute != nil {
		return !now.Before(w.Absolute.From) && now.Before(w.Absolute.To)
	}

	if w.Weekly == nil {
		return false
	}
	start, err := parseClock(w.Weekly.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.Weekly.End)
	if err != nil {
		return false
	}

	minuteOfDay := now.Hour()*60 + now.Minute()

	if start <= end {
		return weekdayIn(w.Weekly.Days, now.Weekday()) && minuteOfDay >= start && minuteOfDay < end
	}

	// Wrapping window (e.g. 22:00-06:00): the pre-midnight side belongs
	// to today's weekday, the post-midnight side to yesterday's.
	if minuteOfDay >= start {
		return weekdayIn(w.Weekly.Days, now.Weekday())
	}
	if minuteOfDay < end {
		yesterday := (now.Weekday() + 6) % 7
		return weekdayIn(w.Weekly.Days, yesterday)
	}
	return false
}

// NextOpen returns the earliest instant at or after now when the window
// is open, and false if the window can never open again (absolute window
// in the past).
func (w Window) NextOpen(now time.Time) (time.Time, bool) {
	now = now.UTC()

	if w.Absolute != nil {
		if now.Before(w.Absolute.From) {
			return w.Absolute.From, true
		}
		if now.Before(w.Absolute.To) {
			return now, true
		}
		return time.Time{}, false
	}

	if w.Weekly == nil {
		return time.Time{}, false
	}
	if w.Contains(now) {
		return now, true
	}
	start, err := parseClock(w.Weekly.Start)
	if err != nil {
		return time.Time{}, false
	}
	// Scan at most a week ahead for the next opening day.
	for i := 0; i < 8; i++ {
		day := now.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), start/60, start%60, 0, 0, time.UTC)
		if weekdayIn(w.Weekly.Days, open.Weekday()) && open.After(now) {
			return open, true
		}
	}
	return time.Time{}, false
}

func weekdayIn(days []time.Weekday, d time.Weekday) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
