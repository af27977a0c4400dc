package models

// Settings is the reminder configuration snapshot consumed by one decision cycle.
type Settings struct {
	RefillRemindersEnabled         bool
	InventoryReminderThresholdDays int
	TimeReminderThresholdDays      int
	DailyPillTarget                int
}

// DefaultSettings returns the out-of-the-box reminder configuration.
func DefaultSettings() Settings {
	return Settings{
		RefillRemindersEnabled:         true,
		InventoryReminderThresholdDays: 7,
		TimeReminderThresholdDays:      30,
		DailyPillTarget:                1,
	}
}

// UsageRate is the daily usage rate a refill receipt records.
// It mirrors the configured daily target.
func (s Settings) UsageRate() float64 {
	if s.DailyPillTarget < 0 {
		return 0
	}
	return float64(s.DailyPillTarget)
}
