package util

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DateTimeFormat is the standard datetime format for display.
	DateTimeFormat = "2006-01-02 15:04"

	// Day is one elapsed day. Reminder thresholds count whole 24h periods,
	// not calendar boundaries.
	Day = 24 * time.Hour
)

// Clock supplies the single "now" used for one decision cycle.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a clock that only moves when told to. It backs the --at flag
// and lets the dashboard step through days.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock pinned at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the pinned time.
func (mc *ManualClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

// Advance moves the clock forward by d.
func (mc *ManualClock) Advance(d time.Duration) error {
	if d < 0 {
		return errors.New("cannot advance clock backwards")
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.now = mc.now.Add(d)
	return nil
}

// SetTime pins the clock to t.
func (mc *ManualClock) SetTime(t time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.now = t
}

// WholeDays returns the number of complete 24h periods from "from" to "to".
// The result is truncated toward zero, so it is negative when to is before from.
func WholeDays(from, to time.Time) int {
	return int(to.Sub(from) / Day)
}

// AddDays shifts t by n 24h periods, the same unit WholeDays counts. Across a
// DST change the wall-clock hour moves.
func AddDays(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * Day)
}

// IsSameDay checks if two times are on the same calendar day.
func IsSameDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// FormatDateTime formats a time as a datetime string.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeFormat)
}

// ParseTimestamp parses an RFC3339 timestamp as accepted by the --at flag.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp (expected RFC3339): %w", err)
	}
	return t, nil
}

// Plural returns "1 day" or "n days" style strings.
func Plural(n int, unit string) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// RelativeTimeString returns a human-readable relative time string.
func RelativeTimeString(t time.Time, now time.Time) string {
	diff := now.Sub(t)

	if diff < 0 {
		return futureTimeString(-diff)
	}

	return pastTimeString(diff)
}

func pastTimeString(diff time.Duration) string {
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return Plural(int(diff.Minutes()), "minute") + " ago"
	case diff < Day:
		return Plural(int(diff.Hours()), "hour") + " ago"
	case diff < 2*Day:
		return "yesterday"
	default:
		return Plural(int(diff/Day), "day") + " ago"
	}
}

func futureTimeString(diff time.Duration) string {
	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return "in " + Plural(int(diff.Minutes()), "minute")
	case diff < Day:
		return "in " + Plural(int(diff.Hours()), "hour")
	case diff < 2*Day:
		return "tomorrow"
	default:
		return "in " + Plural(int(diff/Day), "day")
	}
}
