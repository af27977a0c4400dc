// Package reminders decides when refill reminders fire and keeps the three
// notification channels in step with those decisions.
package reminders

import (
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/services/forecast"
	"github.com/refilltrack/refilltrack/internal/util"
)

// Notification channel keys. Scheduling a key replaces its pending instance.
const (
	KeyInventory = "inventory-reminder"
	KeyTime      = "time-reminder"
	KeyFollowUp  = "follow-up-reminder"
)

// Follow-up escalation: the first nag waits FollowUpGraceDays after the
// request, then repeats every FollowUpRepeatDays.
const (
	FollowUpGraceDays  = 3
	FollowUpRepeatDays = 1
)

// AllKeys returns every channel key.
func AllKeys() []string {
	return []string{KeyInventory, KeyTime, KeyFollowUp}
}

// IdleKeys returns the channels that only apply while no refill is outstanding.
func IdleKeys() []string {
	return []string{KeyInventory, KeyTime}
}

// ShouldShowInventoryReminder reports whether the supply forecast is at or
// below the inventory threshold while no refill is outstanding.
func ShouldShowInventoryReminder(state models.InventoryState, settings models.Settings, now time.Time) bool {
	if !settings.RefillRemindersEnabled || state.IsWaitingForRefill() {
		return false
	}
	return forecast.DaysRemaining(state) <= settings.InventoryReminderThresholdDays
}

// ShouldShowTimeReminder reports whether enough whole days have passed since
// the last refill while no refill is outstanding.
func ShouldShowTimeReminder(state models.InventoryState, settings models.Settings, now time.Time) bool {
	if !settings.RefillRemindersEnabled || state.IsWaitingForRefill() {
		return false
	}
	return DaysSinceRefill(state, now) >= settings.TimeReminderThresholdDays
}

// ShouldShowFollowUp reports whether the follow-up channel is active. Only the
// waiting state matters; the inventory and time thresholds are ignored.
func ShouldShowFollowUp(state models.InventoryState, settings models.Settings) bool {
	return settings.RefillRemindersEnabled && state.IsWaitingForRefill()
}

// DaysSinceRefill returns whole days since the last receipt, or 0 if the
// medication was never refilled.
func DaysSinceRefill(state models.InventoryState, now time.Time) int {
	return util.WholeDays(state.LastRefillDate(now), now)
}

// DaysSinceRequest returns whole days since the outstanding request.
func DaysSinceRequest(state models.InventoryState, now time.Time) (int, bool) {
	requested, ok := state.RefillRequestDate()
	if !ok {
		return 0, false
	}
	return util.WholeDays(requested, now), true
}

// NextFollowUp returns the next follow-up fire time while waiting. The first
// fires FollowUpGraceDays after the request, later ones every
// FollowUpRepeatDays on the same anchor, so every evaluation within one day
// yields the same slot. Once a slot's instant is reached the next one is due.
func NextFollowUp(state models.InventoryState, now time.Time) (time.Time, bool) {
	requested, ok := state.RefillRequestDate()
	if !ok {
		return time.Time{}, false
	}
	first := util.AddDays(requested, FollowUpGraceDays)
	if now.Before(first) {
		return first, true
	}
	period := time.Duration(FollowUpRepeatDays) * util.Day
	slots := now.Sub(first)/period + 1
	return first.Add(slots * period), true
}

// Decision is the outcome of one evaluation. InventoryLow and TimeElapsed can
// both be true in Idle; FollowUp is only ever true in Waiting.
type Decision struct {
	At    time.Time
	State models.MachineState

	InventoryLow bool
	TimeElapsed  bool
	FollowUp     bool
	FollowUpAt   time.Time

	Forecast         forecast.Projection
	DaysSinceRefill  int
	RequestedAt      time.Time // zero unless waiting
	DaysSinceRequest int
}

// Decide evaluates every predicate against a single instant.
func Decide(state models.InventoryState, settings models.Settings, now time.Time) Decision {
	dec := Decision{
		At:              now,
		State:           state.MachineState(),
		InventoryLow:    ShouldShowInventoryReminder(state, settings, now),
		TimeElapsed:     ShouldShowTimeReminder(state, settings, now),
		FollowUp:        ShouldShowFollowUp(state, settings),
		Forecast:        forecast.Project(state, settings.InventoryReminderThresholdDays, now),
		DaysSinceRefill: DaysSinceRefill(state, now),
	}

	if requested, ok := state.RefillRequestDate(); ok {
		dec.RequestedAt = requested
		dec.DaysSinceRequest = util.WholeDays(requested, now)
	}
	if dec.FollowUp {
		dec.FollowUpAt, _ = NextFollowUp(state, now)
	}

	return dec
}

// Active returns the keys of the channels this decision turns on.
func (d Decision) Active() []string {
	var keys []string
	if d.InventoryLow {
		keys = append(keys, KeyInventory)
	}
	if d.TimeElapsed {
		keys = append(keys, KeyTime)
	}
	if d.FollowUp {
		keys = append(keys, KeyFollowUp)
	}
	return keys
}
