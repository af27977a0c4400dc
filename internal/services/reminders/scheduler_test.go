package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/testutil"
)

const lead = time.Minute

func newScheduler(t *testing.T) (*Scheduler, *testutil.MemoryNotifier) {
	t.Helper()
	notifier := testutil.NewMemoryNotifier()
	return NewScheduler(notifier, lead, nil), notifier
}

func TestScheduler_Evaluate_Disabled(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()

	for _, key := range AllKeys() {
		_ = notifier.Schedule(ctx, models.Notification{Key: key})
	}

	state := testutil.FixtureWaitingInventory(5, testutil.WithPills(0))
	report := s.Evaluate(ctx, state, testutil.FixtureSettings(testutil.RemindersDisabled), now)

	if len(report.Scheduled) != 0 {
		t.Errorf("Scheduled = %v, want none", report.ScheduledKeys())
	}
	for _, key := range AllKeys() {
		if notifier.Has(key) {
			t.Errorf("%s still pending with reminders disabled", key)
		}
	}
}

func TestScheduler_Evaluate_Idle(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()

	state := testutil.FixtureInventory(testutil.WithPills(4))
	report := s.Evaluate(ctx, state, testutil.FixtureSettings(), now)

	if err := report.Err(); err != nil {
		t.Fatalf("Report.Err() = %v", err)
	}
	n, ok := notifier.Get(KeyInventory)
	if !ok {
		t.Fatal("inventory reminder not scheduled")
	}
	if !n.FireAt.Equal(now.Add(lead)) {
		t.Errorf("FireAt = %v, want %v", n.FireAt, now.Add(lead))
	}
	if notifier.Has(KeyTime) || notifier.Has(KeyFollowUp) {
		t.Error("unexpected time or follow-up reminder")
	}
	// Channels that were never pending are left alone.
	if notifier.Called("cancel " + KeyTime) {
		t.Error("cancelled time reminder that was not pending")
	}
}

func TestScheduler_Evaluate_CancelsStaleIdleChannel(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()

	_ = notifier.Schedule(ctx, models.Notification{Key: KeyTime})

	report := s.Evaluate(ctx, testutil.FixtureInventory(), testutil.FixtureSettings(), now)

	if notifier.Has(KeyTime) {
		t.Error("stale time reminder still pending")
	}
	if len(report.Cancelled) != 1 || report.Cancelled[0] != KeyTime {
		t.Errorf("Cancelled = %v, want [%s]", report.Cancelled, KeyTime)
	}
}

func TestScheduler_Evaluate_ListFailureCancelsUnconditionally(t *testing.T) {
	s, notifier := newScheduler(t)
	notifier.FailList(errors.New("permission revoked"))

	s.Evaluate(context.Background(), testutil.FixtureInventory(), testutil.FixtureSettings(), now)

	for _, key := range AllKeys() {
		if !notifier.Called("cancel " + key) {
			t.Errorf("expected cancel %s when pending list is unavailable", key)
		}
	}
}

func TestScheduler_Evaluate_Waiting(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()

	_ = notifier.Schedule(ctx, models.Notification{Key: KeyInventory})
	_ = notifier.Schedule(ctx, models.Notification{Key: KeyTime})

	state := testutil.FixtureWaitingInventory(2, testutil.WithPills(0))
	s.Evaluate(ctx, state, testutil.FixtureSettings(), now)

	if notifier.Has(KeyInventory) || notifier.Has(KeyTime) {
		t.Error("idle channels still pending while waiting")
	}
	n, ok := notifier.Get(KeyFollowUp)
	if !ok {
		t.Fatal("follow-up not scheduled")
	}
	want := now.AddDate(0, 0, -2).AddDate(0, 0, FollowUpGraceDays)
	if !n.FireAt.Equal(want) {
		t.Errorf("follow-up FireAt = %v, want %v", n.FireAt, want)
	}
}

func TestScheduler_FollowUpReplacesNotStacks(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()
	state := testutil.FixtureWaitingInventory(4)

	s.Evaluate(ctx, state, testutil.FixtureSettings(), now)
	later := now.AddDate(0, 0, 1)
	s.Evaluate(ctx, state, testutil.FixtureSettings(), later)

	pending, _ := notifier.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("ListPending() = %v, want one follow-up", pending)
	}
	n, _ := notifier.Get(KeyFollowUp)
	if !n.FireAt.Equal(later.AddDate(0, 0, 1)) {
		t.Errorf("follow-up FireAt = %v, want %v", n.FireAt, later.AddDate(0, 0, 1))
	}
}

func TestScheduler_ChannelFailureIsIsolated(t *testing.T) {
	s, notifier := newScheduler(t)
	notifier.FailSchedule(KeyInventory, errors.New("permission revoked"))

	state := testutil.FixtureInventory(testutil.WithPills(2), testutil.WithLastRefill(40, 30))
	report := s.Evaluate(context.Background(), state, testutil.FixtureSettings(), now)

	if !notifier.Has(KeyTime) {
		t.Error("time reminder not scheduled after inventory failure")
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %v, want 1", report.Failures)
	}

	var chErr *ChannelError
	if !errors.As(report.Err(), &chErr) {
		t.Fatalf("Report.Err() = %v, want *ChannelError", report.Err())
	}
	if chErr.Key != KeyInventory || chErr.Op != "schedule" {
		t.Errorf("ChannelError = %+v, want schedule %s", chErr, KeyInventory)
	}
}

func TestScheduler_OnRefillRequested(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()

	idle := testutil.FixtureInventory()
	waiting, _ := idle.LogRefillRequested("req", now)

	report := s.OnRefillRequested(ctx, waiting, testutil.FixtureSettings(), now)

	for _, key := range IdleKeys() {
		if !notifier.Called("cancel " + key) {
			t.Errorf("expected unconditional cancel of %s", key)
		}
	}
	if got := report.ScheduledKeys(); len(got) != 1 || got[0] != KeyFollowUp {
		t.Errorf("Scheduled = %v, want [%s]", got, KeyFollowUp)
	}
	// Each channel is cancelled at most once per pass.
	if len(report.Cancelled) != 2 {
		t.Errorf("Cancelled = %v, want the two idle keys once each", report.Cancelled)
	}
}

func TestScheduler_OnRefillReceived(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()

	waiting := testutil.FixtureWaitingInventory(4, testutil.WithPills(0))
	s.Evaluate(ctx, waiting, testutil.FixtureSettings(), now)

	received, err := waiting.LogRefillReceived("rcv", now, 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	notifier.ResetCalls()
	report := s.OnRefillReceived(ctx, received, testutil.FixtureSettings(), now)

	for _, key := range AllKeys() {
		if !notifier.Called("cancel " + key) {
			t.Errorf("expected unconditional cancel of %s", key)
		}
		if notifier.Has(key) {
			t.Errorf("%s pending after a full refill", key)
		}
	}
	if len(report.Scheduled) != 0 {
		t.Errorf("Scheduled = %v, want none", report.ScheduledKeys())
	}
}

// Idle with 20 pills, request, four silent days, then the refill arrives.
func TestScheduler_RefillLifecycle(t *testing.T) {
	s, notifier := newScheduler(t)
	ctx := context.Background()
	settings := testutil.FixtureSettings()
	clock := now

	state := models.InventoryState{CurrentPillCount: 20, DailyUsageRate: 1, RefillEvents: []models.RefillEvent{}}
	s.Evaluate(ctx, state, settings, clock)
	if pending, _ := notifier.ListPending(ctx); len(pending) != 0 {
		t.Fatalf("pending at start = %v, want none", pending)
	}

	state, _ = state.LogRefillRequested("req", clock)
	if state.MachineState() != models.StateWaiting {
		t.Fatalf("MachineState() = %v, want %v", state.MachineState(), models.StateWaiting)
	}
	s.OnRefillRequested(ctx, state, settings, clock)

	n, ok := notifier.Get(KeyFollowUp)
	if !ok || !n.FireAt.Equal(clock.AddDate(0, 0, 3)) {
		t.Fatalf("follow-up = %+v, %v, want fire at %v", n, ok, clock.AddDate(0, 0, 3))
	}

	clock = clock.AddDate(0, 0, 4)
	s.Evaluate(ctx, state, settings, clock)

	n, _ = notifier.Get(KeyFollowUp)
	if !n.FireAt.Equal(clock.AddDate(0, 0, 1)) {
		t.Errorf("follow-up after 4 days = %v, want %v", n.FireAt, clock.AddDate(0, 0, 1))
	}

	state, err := state.LogRefillReceived("rcv", clock, 60, settings.UsageRate())
	if err != nil {
		t.Fatal(err)
	}
	report := s.OnRefillReceived(ctx, state, settings, clock)

	if report.Decision.State != models.StateIdle || state.CurrentPillCount != 60 {
		t.Errorf("after receipt state = %v, count = %d, want Idle, 60", report.Decision.State, state.CurrentPillCount)
	}
	for _, key := range AllKeys() {
		if notifier.Has(key) {
			t.Errorf("%s pending after receipt", key)
		}
	}
}
