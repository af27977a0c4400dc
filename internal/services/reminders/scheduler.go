package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/refilltrack/refilltrack/internal/metrics"
	"github.com/refilltrack/refilltrack/internal/models"
)

// DefaultLeadTime is how far out an Idle-state reminder is scheduled.
const DefaultLeadTime = time.Minute

// Notifier schedules and cancels keyed local notifications.
// Schedule with a key that is already pending must replace it.
type Notifier interface {
	Schedule(ctx context.Context, n models.Notification) error
	Cancel(ctx context.Context, keys []string) error
	ListPending(ctx context.Context) ([]string, error)
}

// ChannelError records a notifier failure on one channel.
type ChannelError struct {
	Key string
	Op  string // "schedule" or "cancel"
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Report is what one scheduling pass did.
type Report struct {
	Decision  Decision
	Scheduled []models.Notification
	Cancelled []string
	Failures  []*ChannelError
}

// Err joins the channel failures, or returns nil if there were none.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// ScheduledKeys returns the keys scheduled in this pass.
func (r *Report) ScheduledKeys() []string {
	keys := make([]string, len(r.Scheduled))
	for i, n := range r.Scheduled {
		keys[i] = n.Key
	}
	return keys
}

// Scheduler turns decisions into notifier calls.
type Scheduler struct {
	notifier Notifier
	leadTime time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive leadTime uses DefaultLeadTime.
func NewScheduler(notifier Notifier, leadTime time.Duration, logger *slog.Logger) *Scheduler {
	if leadTime <= 0 {
		leadTime = DefaultLeadTime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{notifier: notifier, leadTime: leadTime, logger: logger}
}

// LeadTime returns the offset used for Idle-state reminders.
func (s *Scheduler) LeadTime() time.Duration {
	return s.leadTime
}

// Evaluate brings all three channels in line with the current state.
func (s *Scheduler) Evaluate(ctx context.Context, state models.InventoryState, settings models.Settings, now time.Time) *Report {
	report := &Report{Decision: Decide(state, settings, now)}
	s.apply(ctx, report, settings)
	return report
}

// OnRefillRequested cancels the Idle channels before scheduling the follow-up.
func (s *Scheduler) OnRefillRequested(ctx context.Context, state models.InventoryState, settings models.Settings, now time.Time) *Report {
	report := &Report{Decision: Decide(state, settings, now)}
	s.cancel(ctx, report, IdleKeys()...)
	s.apply(ctx, report, settings)
	return report
}

// OnRefillReceived cancels every channel, then re-evaluates from the new baseline.
func (s *Scheduler) OnRefillReceived(ctx context.Context, state models.InventoryState, settings models.Settings, now time.Time) *Report {
	report := &Report{Decision: Decide(state, settings, now)}
	s.cancel(ctx, report, AllKeys()...)
	s.apply(ctx, report, settings)
	return report
}

// CancelAll cancels every channel.
func (s *Scheduler) CancelAll(ctx context.Context) *Report {
	report := &Report{}
	s.cancel(ctx, report, AllKeys()...)
	return report
}

// Pending returns the keys the notifier still holds.
func (s *Scheduler) Pending(ctx context.Context) ([]string, error) {
	keys, err := s.notifier.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending notifications: %w", err)
	}
	return keys, nil
}

func (s *Scheduler) apply(ctx context.Context, report *Report, settings models.Settings) {
	metrics.Evaluations.Inc()
	dec := report.Decision

	if !settings.RefillRemindersEnabled {
		s.cancel(ctx, report, AllKeys()...)
		return
	}

	if dec.State == models.StateWaiting {
		s.cancel(ctx, report, IdleKeys()...)
		s.schedule(ctx, report, FollowUpNotification(dec))
		return
	}

	pending := s.pendingSet(ctx)
	fireAt := dec.At.Add(s.leadTime)

	if dec.InventoryLow {
		s.schedule(ctx, report, InventoryNotification(dec, fireAt))
	} else {
		s.cancelIfPending(ctx, report, pending, KeyInventory)
	}

	if dec.TimeElapsed {
		s.schedule(ctx, report, TimeNotification(dec, fireAt))
	} else {
		s.cancelIfPending(ctx, report, pending, KeyTime)
	}

	s.cancelIfPending(ctx, report, pending, KeyFollowUp)
}

// pendingSet returns nil when the notifier cannot list, which makes
// cancelIfPending cancel unconditionally.
func (s *Scheduler) pendingSet(ctx context.Context) map[string]bool {
	keys, err := s.notifier.ListPending(ctx)
	if err != nil {
		s.logger.Warn("listing pending notifications failed", "error", err)
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

func (s *Scheduler) cancelIfPending(ctx context.Context, report *Report, pending map[string]bool, key string) {
	if pending != nil && !pending[key] {
		return
	}
	s.cancel(ctx, report, key)
}

func (s *Scheduler) cancel(ctx context.Context, report *Report, keys ...string) {
	for _, key := range keys {
		if slices.Contains(report.Cancelled, key) {
			continue
		}
		if err := s.notifier.Cancel(ctx, []string{key}); err != nil {
			s.fail(report, key, "cancel", err)
			continue
		}
		report.Cancelled = append(report.Cancelled, key)
		metrics.RemindersCancelled.WithLabelValues(key).Inc()
		s.logger.Debug("cancelled notification", "channel", key)
	}
}

func (s *Scheduler) schedule(ctx context.Context, report *Report, n models.Notification) {
	if err := s.notifier.Schedule(ctx, n); err != nil {
		s.fail(report, n.Key, "schedule", err)
		return
	}
	report.Scheduled = append(report.Scheduled, n)
	metrics.RemindersScheduled.WithLabelValues(n.Key).Inc()
	s.logger.Debug("scheduled notification", "channel", n.Key, "fire_at", n.FireAt)
}

func (s *Scheduler) fail(report *Report, key, op string, err error) {
	report.Failures = append(report.Failures, &ChannelError{Key: key, Op: op, Err: err})
	metrics.NotifierFailures.WithLabelValues(key, op).Inc()
	s.logger.Warn("notifier call failed", "channel", key, "op", op, "error", err)
}
