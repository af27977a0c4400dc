package util

import (
	"testing"
	"time"
)

func TestWholeDays(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		to   time.Time
		want int
	}{
		{"Same instant", base, 0},
		{"23 hours later", base.Add(23 * time.Hour), 0},
		{"Exactly one day", base.Add(Day), 1},
		{"Just under three days", base.Add(3*Day - time.Second), 2},
		{"Exactly three days", base.Add(3 * Day), 3},
		{"Crosses midnight only", base.Add(16 * time.Hour), 0},
		{"Earlier by 36 hours", base.Add(-36 * time.Hour), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WholeDays(base, tt.to); got != tt.want {
				t.Errorf("WholeDays() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddDays_AcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Clocks spring forward on 2026-03-08.
	start := time.Date(2026, 3, 6, 12, 0, 0, 0, loc)

	got := AddDays(start, 3)
	if elapsed := got.Sub(start); elapsed != 72*time.Hour {
		t.Errorf("AddDays() elapsed = %v, want 72h", elapsed)
	}
	if days := WholeDays(start, got); days != 3 {
		t.Errorf("WholeDays(start, AddDays(start, 3)) = %v, want 3", days)
	}
	if got.Hour() != 13 {
		t.Errorf("AddDays() wall hour = %v, want 13", got.Hour())
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2025-03-01T09:00:00Z")
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if want := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("ParseTimestamp() = %v, want %v", got, want)
	}
	if _, err := ParseTimestamp("2025-03-01"); err == nil {
		t.Error("ParseTimestamp() error = nil for date without time")
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	if err := clock.Advance(Day); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if got := clock.Now(); !got.Equal(start.Add(Day)) {
		t.Errorf("Now() after Advance = %v, want %v", got, start.Add(Day))
	}

	if err := clock.Advance(-time.Hour); err == nil {
		t.Error("expected error advancing backwards")
	}

	later := start.AddDate(0, 1, 0)
	clock.SetTime(later)
	if got := clock.Now(); !got.Equal(later) {
		t.Errorf("Now() after SetTime = %v, want %v", got, later)
	}
}

func TestRelativeTimeString(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"Just now", now.Add(-10 * time.Second), "just now"},
		{"Minutes ago", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"One hour ago", now.Add(-time.Hour), "1 hour ago"},
		{"Yesterday", now.Add(-30 * time.Hour), "yesterday"},
		{"Days ago", now.Add(-4 * Day), "4 days ago"},
		{"In a minute", now.Add(time.Minute), "in 1 minute"},
		{"Tomorrow", now.Add(Day), "tomorrow"},
		{"In three days", now.Add(3 * Day), "in 3 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeTimeString(tt.t, now); got != tt.want {
				t.Errorf("RelativeTimeString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeterministicID(t *testing.T) {
	a := DeterministicID(42)
	b := DeterministicID(42)
	if a != b {
		t.Errorf("DeterministicID() not stable: %s != %s", a, b)
	}
	if !IsValidID(a) {
		t.Errorf("DeterministicID() = %s, not a valid UUID", a)
	}
	if IsValidID(NewID()) == false {
		t.Error("NewID() produced an invalid UUID")
	}
}
