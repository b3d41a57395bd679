package journey

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is an ISO-8601 duration as used by TIME_DELAY steps and
// wait-until time branches, e.g. "PT1H", "P2D", "P1DT12H30M".
//
// Only the day/hour/minute/second designators are supported. Year and
// month designators are rejected: they have no fixed length and journey
// delays must be exact.
type Duration struct {
	raw string
	d   time.Duration
}

// ParseDuration parses an ISO-8601 duration string.
func ParseDuration(s string) (Duration, error) {
	d, err := parseISO8601(s)
	if err != nil {
		return Duration{}, err
	}
	return Duration{raw: s, d: d}, nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return d.d }

// String returns the original ISO-8601 form.
func (d Duration) String() string { return d.raw }

// IsZero reports whether the duration is unset or zero-length.
func (d Duration) IsZero() bool { return d.d == 0 }

// MarshalJSON encodes the duration in its ISO-8601 form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.raw)), nil
}

// UnmarshalJSON decodes an ISO-8601 duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("duration must be a JSON string: %s", data)
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// parseISO8601 parses the D/H/M/S subset of ISO-8601 durations.
func parseISO8601(s string) (time.Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: missing P designator", orig)
	}
	s = s[1:]

	datePart := s
	timePart := ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
		if timePart == "" {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: empty time part", orig)
		}
	}
	if datePart == "" && timePart == "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: empty", orig)
	}

	var total time.Duration

	consume := func(part string, units map[byte]time.Duration, order string) error {
		for part != "" {
			i := 0
			for i < len(part) && part[i] >= '0' && part[i] <= '9' {
				i++
			}
			if i == 0 || i == len(part) {
				return fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			n, err := strconv.ParseInt(part[:i], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ISO-8601 duration %q: %w", orig, err)
			}
			unit, ok := units[part[i]]
			if !ok {
				return fmt.Errorf("invalid ISO-8601 duration %q: unsupported designator %q", orig, string(part[i]))
			}
			if !strings.ContainsRune(order, rune(part[i])) {
				return fmt.Errorf("invalid ISO-8601 duration %q: designator %q out of order", orig, string(part[i]))
			}
			order = order[strings.IndexByte(order, part[i])+1:]
			total += time.Duration(n) * unit
			part = part[i+1:]
		}
		return nil
	}

	if err := consume(datePart, map[byte]time.Duration{
		'D': 24 * time.Hour,
	}, "D"); err != nil {
		return 0, err
	}
	if err := consume(timePart, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	}, "HMS"); err != nil {
		return 0, err
	}

	return total, nil
}
