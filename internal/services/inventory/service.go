// Package inventory is the command/query service over the medication
// inventory: it applies a mutation, persists it and re-evaluates reminders.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/refilltrack/refilltrack/internal/metrics"
	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/services/reminders"
	"github.com/refilltrack/refilltrack/internal/util"
)

// Store persists the inventory.
type Store interface {
	Load(ctx context.Context) (models.InventoryState, error)
	Save(ctx context.Context, state models.InventoryState) error
	Reset(ctx context.Context) error
}

// SettingsProvider supplies the reminder settings for each decision cycle.
type SettingsProvider interface {
	Settings() models.Settings
}

// StaticSettings is a fixed SettingsProvider.
type StaticSettings models.Settings

// Settings returns s.
func (s StaticSettings) Settings() models.Settings {
	return models.Settings(s)
}

// PersistError reports that a mutation was applied in memory but could not be
// saved. The reminders were still re-evaluated.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: change not saved: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a command.
type Result struct {
	State   models.InventoryState
	Report  *reminders.Report
	Changed bool
}

// Status is a read-only snapshot for display.
type Status struct {
	At       time.Time
	State    models.InventoryState
	Decision reminders.Decision
	Pending  []string
}

// Service owns the single in-memory inventory. Calls are serialized.
type Service struct {
	mu        sync.Mutex
	store     Store
	scheduler *reminders.Scheduler
	settings  SettingsProvider
	clock     util.Clock
	ids       *util.IDGenerator
	logger    *slog.Logger

	state  models.InventoryState
	loaded bool
}

// NewService creates a new inventory service.
func NewService(store Store, scheduler *reminders.Scheduler, settings SettingsProvider, clock util.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = util.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		settings:  settings,
		clock:     clock,
		ids:       util.NewIDGenerator(),
		logger:    logger,
	}
}

// Load reads the persisted state, replacing whatever is in memory.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) error {
	state, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}
	s.state = state
	s.loaded = true
	s.observe()
	return nil
}

func (s *Service) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	return s.load(ctx)
}

// State returns a copy of the current state.
func (s *Service) State(ctx context.Context) (models.InventoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return models.InventoryState{}, err
	}
	return s.state.Clone(), nil
}

// Now returns the service clock's time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// TakeDose records one dose.
func (s *Service) TakeDose(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next := s.state.LogMedicationTaken()
	s.logger.Info("dose taken", "pill_count", next.CurrentPillCount)

	return s.commit(ctx, "take dose", next, true, s.scheduler.Evaluate, now)
}

// RequestRefill records a refill request. While a request is already
// outstanding it changes nothing and reports Changed false.
func (s *Service) RequestRefill(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next, ok := s.state.LogRefillRequested(s.ids.NewID(), now)
	if !ok {
		s.logger.Info("refill already requested")
		return &Result{
			State:  s.state.Clone(),
			Report: s.scheduler.Evaluate(ctx, s.state, s.settings.Settings(), now),
		}, nil
	}

	s.logger.Info("refill requested", "requested_at", now)
	return s.commit(ctx, "request refill", next, true, s.scheduler.OnRefillRequested, now)
}

// ReceiveRefill records a refill bringing the count to pillCount. A count of
// zero or less returns models.ErrInvalidPillCount and changes nothing.
func (s *Service) ReceiveRefill(ctx context.Context, pillCount int) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	settings := s.settings.Settings()
	next, err := s.state.LogRefillReceived(s.ids.NewID(), now, pillCount, settings.UsageRate())
	if err != nil {
		return nil, err
	}

	s.logger.Info("refill received", "pill_count", pillCount, "daily_usage_rate", next.DailyUsageRate)
	return s.commit(ctx, "receive refill", next, true, s.scheduler.OnRefillReceived, now)
}

// Evaluate re-runs the reminder decision without changing the inventory.
func (s *Service) Evaluate(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	report := s.scheduler.Evaluate(ctx, s.state, s.settings.Settings(), now)
	s.logReport("evaluate", report)
	return &Result{State: s.state.Clone(), Report: report}, nil
}

// Reset returns the inventory to the zero state and cancels every reminder.
func (s *Service) Reset(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	zero := models.ZeroInventory()
	report := s.scheduler.CancelAll(ctx)

	if err := s.store.Reset(ctx); err != nil {
		s.state = zero
		s.loaded = true
		metrics.PersistFailures.Inc()
		s.logger.Error("resetting inventory failed", "error", err)
		return &Result{State: zero, Report: report, Changed: true}, &PersistError{Op: "reset", Err: err}
	}

	s.state = zero
	s.loaded = true
	s.observe()
	s.logger.Info("inventory reset")
	return &Result{State: zero, Report: report, Changed: true}, nil
}

// Status returns a snapshot with the current decision and pending channels.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := &Status{
		At:       now,
		State:    s.state.Clone(),
		Decision: reminders.Decide(s.state, s.settings.Settings(), now),
	}

	pending, err := s.scheduler.Pending(ctx)
	if err != nil {
		s.logger.Warn("listing pending reminders failed", "error", err)
	}
	status.Pending = pending

	return status, nil
}

// History returns the refill log, oldest first.
func (s *Service) History(ctx context.Context) ([]models.RefillEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.state.SortedEvents(), nil
}

type scheduleFunc func(ctx context.Context, state models.InventoryState, settings models.Settings, now time.Time) *reminders.Report

// commit saves next, makes it current even if the save fails, then schedules.
func (s *Service) commit(ctx context.Context, op string, next models.InventoryState, changed bool, schedule scheduleFunc, now time.Time) (*Result, error) {
	saveErr := s.store.Save(ctx, next)
	s.state = next
	s.observe()

	report := schedule(ctx, s.state, s.settings.Settings(), now)
	s.logReport(op, report)

	result := &Result{State: s.state.Clone(), Report: report, Changed: changed}
	if saveErr != nil {
		metrics.PersistFailures.Inc()
		s.logger.Error("saving inventory failed", "op", op, "error", saveErr)
		return result, &PersistError{Op: op, Err: saveErr}
	}
	return result, nil
}

func (s *Service) observe() {
	dec := reminders.Decide(s.state, models.Settings{}, s.clock.Now())
	metrics.ObserveInventory(s.state.CurrentPillCount, dec.Forecast.DaysRemaining, s.state.IsWaitingForRefill())
}

func (s *Service) logReport(op string, report *reminders.Report) {
	s.logger.Debug("reminders evaluated",
		"op", op,
		"state", report.Decision.State,
		"scheduled", report.ScheduledKeys(),
		"cancelled", report.Cancelled,
		"failures", len(report.Failures),
	)
}
