// Package scheduler parses cron expressions and decides whether a
// scheduled policy is inside its active window.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule implements cron-like scheduling.
// Supports: minute hour day-of-month month day-of-week
// Supports: * (any), */n (every n), n-m (range), n,m,o (list)
type CronSchedule struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6 (0=Sunday)
}

// Cron parses a cron expression and creates a schedule.
// Format: "minute hour day-of-month month day-of-week"
// Examples:
//   - "0 * * * *" - Every hour
//   - "*/15 * * * *" - Every 15 minutes
//   - "0 2 * * *" - Daily at 2:00 AM
//   - "0 0 * * 0" - Weekly on Sunday at midnight
//   - "0 0 1 * *" - Monthly on the 1st at midnight
func Cron(expr string) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(parts))
	}

	minutes, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	daysOfMonth, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}

	months, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	daysOfWeek, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	return &CronSchedule{
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  daysOfWeek,
	}, nil
}

// Next returns the first matching minute strictly after after, or the zero
// time when nothing matches within four years.
func (s *CronSchedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	maxTime := after.AddDate(4, 0, 0)

	for t.Before(maxTime) {
		if !contains(s.Months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !contains(s.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !contains(s.Minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// Matches reports whether the minute containing t is a fire time.
func (s *CronSchedule) Matches(t time.Time) bool {
	return contains(s.Months, int(t.Month())) &&
		s.dayMatches(t) &&
		contains(s.Hours, t.Hour()) &&
		contains(s.Minutes, t.Minute())
}

// Prev returns the latest fire time at or before at, looking back no further
// than window. ok is false when there is none.
func (s *CronSchedule) Prev(at time.Time, window time.Duration) (fired time.Time, ok bool) {
	earliest := at.Add(-window)
	for t := at.Truncate(time.Minute); !t.Before(earliest.Truncate(time.Minute)); t = t.Add(-time.Minute) {
		if s.Matches(t) {
			return t, true
		}
	}
	return time.Time{}, false
}

// In cron, when both day fields are restricted either may match; when only
// one is restricted that one must match.
func (s *CronSchedule) dayMatches(t time.Time) bool {
	domMatch := contains(s.DaysOfMonth, t.Day())
	dowMatch := contains(s.DaysOfWeek, int(t.Weekday()))

	switch {
	case len(s.DaysOfMonth) == 31 && len(s.DaysOfWeek) == 7:
		return true
	case len(s.DaysOfMonth) == 31:
		return dowMatch
	case len(s.DaysOfWeek) == 7:
		return domMatch
	}
	return domMatch || dowMatch
}

// parseCronField parses a single cron field.
func parseCronField(field string, min, max int) ([]int, error) {
	var values []int

	// Handle comma-separated values
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		// Handle step values (*/n or n-m/s)
		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			var err error
			step, err = strconv.Atoi(part[idx+1:])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("invalid step: %s", part)
			}
			part = part[:idx]
		}

		// Handle wildcard
		if part == "*" {
			for i := min; i <= max; i += step {
				values = append(values, i)
			}
			continue
		}

		// Handle range (n-m)
		if idx := strings.Index(part, "-"); idx != -1 {
			start, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, fmt.Errorf("invalid range start: %s", part)
			}
			end, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid range end: %s", part)
			}
			if start < min || end > max || start > end {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			for i := start; i <= end; i += step {
				values = append(values, i)
			}
			continue
		}

		// Handle single value
		val, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		if val < min || val > max {
			return nil, fmt.Errorf("value out of range: %d", val)
		}
		values = append(values, val)
	}

	return values, nil
}

// contains checks if a slice contains a value.
func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
