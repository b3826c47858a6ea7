package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Spec is a parsed recurrence: a time of day, optionally pinned to one
// weekday. Without a weekday the job recurs daily.
type Spec struct {
	Weekday *time.Weekday
	Hour    int
	Minute  int
	Second  int
}

// ParseSpec parses "[weekday ]HH:MM[:SS]", e.g. "04:30" or "sunday 04:30".
func ParseSpec(raw string) (Spec, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))

	var spec Spec
	var clock string

	switch len(fields) {
	case 1:
		clock = fields[0]
	case 2:
		wd, ok := weekdays[fields[0]]
		if !ok {
			return Spec{}, fmt.Errorf("unknown weekday %q", fields[0])
		}
		spec.Weekday = &wd
		clock = fields[1]
	default:
		return Spec{}, fmt.Errorf("malformed schedule %q", raw)
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Spec{}, fmt.Errorf("malformed time of day %q", clock)
	}

	vals := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Spec{}, fmt.Errorf("malformed time of day %q", clock)
		}
		vals[i] = n
	}

	spec.Hour, spec.Minute = vals[0], vals[1]
	if len(vals) == 3 {
		spec.Second = vals[2]
	}

	if spec.Hour < 0 || spec.Hour > 23 || spec.Minute < 0 || spec.Minute > 59 || spec.Second < 0 || spec.Second > 59 {
		return Spec{}, fmt.Errorf("time of day %q out of range", clock)
	}
	return spec, nil
}

// Next returns the first instant strictly after now that matches the spec.
func (s Spec) Next(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, s.Second, 0, now.Location())

	if s.Weekday != nil {
		days := (int(*s.Weekday) - int(now.Weekday()) + 7) % 7
		candidate = candidate.AddDate(0, 0, days)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate
	}

	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// Unit names the recurrence period for job listings.
func (s Spec) Unit() string {
	if s.Weekday != nil {
		return "week"
	}
	return "day"
}

// Period is the duration between consecutive fires.
func (s Spec) Period() time.Duration {
	if s.Weekday != nil {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}
