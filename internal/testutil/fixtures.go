package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/refilltrack/refilltrack/internal/models"
)

// Epoch is the fixed "now" most tests start from.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// FixtureInventory creates an idle inventory of 20 pills at one a day, last
// refilled ten days before Epoch.
func FixtureInventory(overrides ...func(*models.InventoryState)) models.InventoryState {
	state := models.InventoryState{
		CurrentPillCount: 20,
		DailyUsageRate:   1,
		RefillEvents: []models.RefillEvent{
			models.NewReceivedEvent(uuid.New().String(), Epoch.AddDate(0, 0, -10), 30),
		},
	}

	for _, override := range overrides {
		override(&state)
	}

	return state
}

// FixtureWaitingInventory creates an inventory whose last receipt was ten days
// before a refill requested daysAgo days before Epoch. Overrides apply before
// the request is appended, so the request is always the newest event.
func FixtureWaitingInventory(daysAgo int, overrides ...func(*models.InventoryState)) models.InventoryState {
	state := FixtureInventory(WithLastRefill(daysAgo+10, 30))
	for _, override := range overrides {
		override(&state)
	}
	state.RefillEvents = append(state.RefillEvents,
		models.NewRequestedEvent(uuid.New().String(), Epoch.AddDate(0, 0, -daysAgo)))
	return state
}

// WithPills sets the pill count.
func WithPills(n int) func(*models.InventoryState) {
	return func(s *models.InventoryState) { s.CurrentPillCount = n }
}

// WithRate sets the daily usage rate.
func WithRate(rate float64) func(*models.InventoryState) {
	return func(s *models.InventoryState) { s.DailyUsageRate = rate }
}

// WithLastRefill replaces the log with a single receipt daysAgo days before Epoch.
func WithLastRefill(daysAgo, pills int) func(*models.InventoryState) {
	return func(s *models.InventoryState) {
		s.RefillEvents = []models.RefillEvent{
			models.NewReceivedEvent(uuid.New().String(), Epoch.AddDate(0, 0, -daysAgo), pills),
		}
	}
}

// FixtureSettings returns the default settings with overrides applied.
func FixtureSettings(overrides ...func(*models.Settings)) models.Settings {
	s := models.DefaultSettings()
	for _, override := range overrides {
		override(&s)
	}
	return s
}

// RemindersDisabled turns refill reminders off.
func RemindersDisabled(s *models.Settings) {
	s.RefillRemindersEnabled = false
}
