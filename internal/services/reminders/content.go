package reminders

import (
	"fmt"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/services/forecast"
	"github.com/refilltrack/refilltrack/internal/util"
)

// InventoryNotification describes a low supply.
func InventoryNotification(dec Decision, fireAt time.Time) models.Notification {
	body := fmt.Sprintf("%s remaining (%s left). Time to request a refill.",
		util.Plural(dec.Forecast.DaysRemaining, "day"),
		util.Plural(dec.Forecast.PillCount, "pill"))
	if dec.Forecast.DaysRemaining >= forecast.UnboundedDays {
		body = fmt.Sprintf("%s left. Time to request a refill.", util.Plural(dec.Forecast.PillCount, "pill"))
	}

	return models.Notification{
		Key:    KeyInventory,
		FireAt: fireAt,
		Title:  "Medication running low",
		Body:   body,
	}
}

// TimeNotification describes a long stretch since the last refill.
func TimeNotification(dec Decision, fireAt time.Time) models.Notification {
	return models.Notification{
		Key:    KeyTime,
		FireAt: fireAt,
		Title:  "Time to refill",
		Body: fmt.Sprintf("%s since your last refill. Consider requesting a new one.",
			util.Plural(dec.DaysSinceRefill, "day")),
	}
}

// FollowUpNotification nags about an outstanding request.
func FollowUpNotification(dec Decision) models.Notification {
	// Counted at fire time, not evaluation time.
	elapsed := util.WholeDays(dec.RequestedAt, dec.FollowUpAt)
	return models.Notification{
		Key:    KeyFollowUp,
		FireAt: dec.FollowUpAt,
		Title:  "Did your refill arrive?",
		Body: fmt.Sprintf("You requested a refill %s ago. Log it once it arrives.",
			util.Plural(elapsed, "day")),
	}
}
