package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/repository"
	"github.com/refilltrack/refilltrack/internal/services/delivery"
	"github.com/refilltrack/refilltrack/internal/services/reminders"
	"github.com/refilltrack/refilltrack/internal/testutil"
	"github.com/refilltrack/refilltrack/internal/util"
)

type harness struct {
	svc      *Service
	repo     *repository.InventoryRepository
	notifier *testutil.MemoryNotifier
	clock    *util.ManualClock
}

func newHarness(t *testing.T, settings models.Settings) *harness {
	t.Helper()

	db := testutil.NewTestDB(t)
	repo := repository.NewInventoryRepository(db.SQL())
	notifier := testutil.NewMemoryNotifier()
	clock := util.NewManualClock(testutil.Epoch)
	scheduler := reminders.NewScheduler(notifier, time.Minute, nil)

	svc := NewService(repo, scheduler, StaticSettings(settings), clock, nil)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	return &harness{svc: svc, repo: repo, notifier: notifier, clock: clock}
}

// failingStore loads the zero state and refuses every write.
type failingStore struct {
	err error
}

func (f failingStore) Load(context.Context) (models.InventoryState, error) {
	return models.ZeroInventory(), nil
}

func (f failingStore) Save(context.Context, models.InventoryState) error {
	return f.err
}

func (f failingStore) Reset(context.Context) error {
	return f.err
}

func TestService_ReceiveRefill_Persists(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	result, err := h.svc.ReceiveRefill(ctx, 30)
	if err != nil {
		t.Fatalf("ReceiveRefill() error = %v", err)
	}
	if result.State.CurrentPillCount != 30 {
		t.Errorf("CurrentPillCount = %d, want 30", result.State.CurrentPillCount)
	}
	if result.State.DailyUsageRate != 1 {
		t.Errorf("DailyUsageRate = %v, want 1", result.State.DailyUsageRate)
	}

	stored, err := h.repo.Load(ctx)
	if err != nil {
		t.Fatalf("repo.Load() error = %v", err)
	}
	if stored.CurrentPillCount != 30 {
		t.Errorf("stored CurrentPillCount = %d, want 30", stored.CurrentPillCount)
	}
	if len(stored.RefillEvents) != 1 || stored.RefillEvents[0].Kind != models.RefillReceived {
		t.Errorf("stored events = %+v, want one receipt", stored.RefillEvents)
	}
}

func TestService_ReceiveRefill_InvalidCount(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	for _, n := range []int{0, -5} {
		if _, err := h.svc.ReceiveRefill(ctx, n); !errors.Is(err, models.ErrInvalidPillCount) {
			t.Errorf("ReceiveRefill(%d) error = %v, want %v", n, err, models.ErrInvalidPillCount)
		}
	}

	state, err := h.svc.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentPillCount != 0 || len(state.RefillEvents) != 0 {
		t.Errorf("state changed after invalid receipt: %+v", state)
	}
}

func TestService_TakeDose_CrossesInventoryThreshold(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	if _, err := h.svc.ReceiveRefill(ctx, 8); err != nil {
		t.Fatal(err)
	}
	if h.notifier.Has(reminders.KeyInventory) {
		t.Fatal("inventory reminder scheduled with 8 days left")
	}

	result, err := h.svc.TakeDose(ctx)
	if err != nil {
		t.Fatalf("TakeDose() error = %v", err)
	}
	if result.State.CurrentPillCount != 7 {
		t.Errorf("CurrentPillCount = %d, want 7", result.State.CurrentPillCount)
	}

	n, ok := h.notifier.Get(reminders.KeyInventory)
	if !ok {
		t.Fatal("inventory reminder not scheduled at 7 days left")
	}
	if want := testutil.Epoch.Add(time.Minute); !n.FireAt.Equal(want) {
		t.Errorf("FireAt = %v, want %v", n.FireAt, want)
	}
}

func TestService_TakeDose_FloorsAtZero(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())

	result, err := h.svc.TakeDose(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.State.CurrentPillCount != 0 {
		t.Errorf("CurrentPillCount = %d, want 0", result.State.CurrentPillCount)
	}
}

func TestService_RequestRefill(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	if _, err := h.svc.ReceiveRefill(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if !h.notifier.Has(reminders.KeyInventory) {
		t.Fatal("inventory reminder not scheduled at 5 days left")
	}

	h.clock.Advance(time.Hour)
	result, err := h.svc.RequestRefill(ctx)
	if err != nil {
		t.Fatalf("RequestRefill() error = %v", err)
	}
	if !result.Changed {
		t.Error("RequestRefill() Changed = false, want true")
	}
	if result.State.MachineState() != models.StateWaiting {
		t.Errorf("MachineState() = %v, want %v", result.State.MachineState(), models.StateWaiting)
	}
	if h.notifier.Has(reminders.KeyInventory) {
		t.Error("inventory reminder still pending while waiting")
	}

	followUp, ok := h.notifier.Get(reminders.KeyFollowUp)
	if !ok {
		t.Fatal("follow-up not scheduled")
	}
	if want := h.clock.Now().AddDate(0, 0, reminders.FollowUpGraceDays); !followUp.FireAt.Equal(want) {
		t.Errorf("follow-up FireAt = %v, want %v", followUp.FireAt, want)
	}

	again, err := h.svc.RequestRefill(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed {
		t.Error("second RequestRefill() Changed = true, want false")
	}
	requests := 0
	for _, e := range again.State.RefillEvents {
		if e.Kind == models.RefillRequested {
			requests++
		}
	}
	if requests != 1 {
		t.Errorf("requests logged = %d, want 1", requests)
	}
}

func TestService_ReceiveRefill_EndsWaiting(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	if _, err := h.svc.RequestRefill(ctx); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(4 * util.Day)

	result, err := h.svc.ReceiveRefill(ctx, 60)
	if err != nil {
		t.Fatal(err)
	}
	if result.State.IsWaitingForRefill() {
		t.Error("still waiting after receipt")
	}
	if h.notifier.Has(reminders.KeyFollowUp) {
		t.Error("follow-up still pending after receipt")
	}
	if !h.notifier.Called("cancel " + reminders.KeyFollowUp) {
		t.Error("follow-up was never cancelled")
	}
}

func TestService_PersistFailure_KeepsMemoryAndReevaluates(t *testing.T) {
	notifier := testutil.NewMemoryNotifier()
	scheduler := reminders.NewScheduler(notifier, time.Minute, nil)
	svc := NewService(failingStore{err: errors.New("disk full")}, scheduler,
		StaticSettings(testutil.FixtureSettings()), util.NewManualClock(testutil.Epoch), nil)
	ctx := context.Background()

	result, err := svc.ReceiveRefill(ctx, 3)

	var persistErr *PersistError
	if !errors.As(err, &persistErr) {
		t.Fatalf("ReceiveRefill() error = %v, want *PersistError", err)
	}
	if persistErr.Op != "receive refill" {
		t.Errorf("PersistError.Op = %q, want %q", persistErr.Op, "receive refill")
	}
	if result == nil || result.State.CurrentPillCount != 3 {
		t.Fatalf("result = %+v, want in-memory count 3", result)
	}

	state, _ := svc.State(ctx)
	if state.CurrentPillCount != 3 {
		t.Errorf("in-memory CurrentPillCount = %d, want 3", state.CurrentPillCount)
	}
	if !notifier.Has(reminders.KeyInventory) {
		t.Error("reminders not re-evaluated after persist failure")
	}
}

func TestService_Reset(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	if _, err := h.svc.ReceiveRefill(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.RequestRefill(ctx); err != nil {
		t.Fatal(err)
	}

	result, err := h.svc.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if result.State.CurrentPillCount != 0 || len(result.State.RefillEvents) != 0 {
		t.Errorf("Reset() state = %+v, want zero", result.State)
	}
	for _, key := range reminders.AllKeys() {
		if h.notifier.Has(key) {
			t.Errorf("%s still pending after reset", key)
		}
	}

	stored, err := h.repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.RefillEvents) != 0 {
		t.Errorf("stored events = %d after reset, want 0", len(stored.RefillEvents))
	}
}

func TestService_Status(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings())
	ctx := context.Background()

	if _, err := h.svc.ReceiveRefill(ctx, 6); err != nil {
		t.Fatal(err)
	}

	status, err := h.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Decision.InventoryLow {
		t.Error("Decision.InventoryLow = false, want true")
	}
	if status.Decision.Forecast.DaysRemaining != 6 {
		t.Errorf("DaysRemaining = %d, want 6", status.Decision.Forecast.DaysRemaining)
	}
	if len(status.Pending) != 1 || status.Pending[0] != reminders.KeyInventory {
		t.Errorf("Pending = %v, want [%s]", status.Pending, reminders.KeyInventory)
	}
}

func TestService_Evaluate_DayRollover(t *testing.T) {
	h := newHarness(t, testutil.FixtureSettings(func(s *models.Settings) {
		s.TimeReminderThresholdDays = 2
	}))
	ctx := context.Background()

	if _, err := h.svc.ReceiveRefill(ctx, 90); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(util.Day)
	if _, err := h.svc.Evaluate(ctx); err != nil {
		t.Fatal(err)
	}
	if h.notifier.Has(reminders.KeyTime) {
		t.Fatal("time reminder scheduled after one day")
	}

	h.clock.Advance(util.Day)
	result, err := h.svc.Evaluate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("Evaluate() Changed = true, want false")
	}
	if !h.notifier.Has(reminders.KeyTime) {
		t.Error("time reminder not scheduled after two days")
	}
}

// An hourly loop of dispatch then evaluate, as in watch mode, over ten days
// of waiting delivers one follow-up per day once the grace period ends.
func TestService_FollowUpNagsDailyUnderHourlyEvaluation(t *testing.T) {
	db := testutil.NewTestDB(t)
	queue := repository.NewNotificationRepository(db.SQL())
	clock := util.NewManualClock(testutil.Epoch)
	scheduler := reminders.NewScheduler(queue, time.Minute, nil)
	svc := NewService(repository.NewInventoryRepository(db.SQL()), scheduler, StaticSettings(testutil.FixtureSettings()), clock, nil)
	ctx := context.Background()

	var delivered []models.Notification
	dispatcher := delivery.NewDispatcher(queue, delivery.DelivererFunc(func(_ context.Context, n models.Notification) error {
		delivered = append(delivered, n)
		return nil
	}), clock, delivery.DefaultOptions(), nil)

	if _, err := svc.ReceiveRefill(ctx, 60); err != nil {
		t.Fatalf("ReceiveRefill() error = %v", err)
	}
	if err := clock.Advance(time.Hour); err != nil {
		t.Fatal(err)
	}
	requested := clock.Now()
	if _, err := svc.RequestRefill(ctx); err != nil {
		t.Fatalf("RequestRefill() error = %v", err)
	}

	for hour := 1; hour <= 10*24; hour++ {
		if err := clock.Advance(time.Hour); err != nil {
			t.Fatal(err)
		}
		if _, err := dispatcher.DispatchDue(ctx); err != nil {
			t.Fatalf("DispatchDue() at hour %d error = %v", hour, err)
		}
		if _, err := svc.Evaluate(ctx); err != nil {
			t.Fatalf("Evaluate() at hour %d error = %v", hour, err)
		}
	}

	if len(delivered) != 8 {
		t.Fatalf("delivered %d notifications, want 8", len(delivered))
	}
	for i, n := range delivered {
		if n.Key != reminders.KeyFollowUp {
			t.Errorf("delivery %d key = %v, want %v", i, n.Key, reminders.KeyFollowUp)
		}
		want := requested.Add(time.Duration(reminders.FollowUpGraceDays+i) * util.Day)
		if !n.FireAt.Equal(want) {
			t.Errorf("delivery %d FireAt = %v, want %v", i, n.FireAt, want)
		}
	}
}
