// Package forecast turns a pill count and usage rate into depletion forecasts.
package forecast

import (
	"math"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/util"
)

// UnboundedDays is reported when the usage rate is zero and the supply
// cannot run out.
const UnboundedDays = 999

// Status classifies a forecast for display.
type Status string

const (
	StatusOK       Status = "OK"
	StatusLow      Status = "LOW"
	StatusCritical Status = "CRITICAL"
)

func (s Status) String() string {
	return string(s)
}

// DaysRemaining returns how many days the current pill count lasts, rounded
// half away from zero, or UnboundedDays when the rate is zero.
func DaysRemaining(state models.InventoryState) int {
	if state.DailyUsageRate <= 0 {
		return UnboundedDays
	}
	return int(math.Round(float64(state.CurrentPillCount) / state.DailyUsageRate))
}

// DepletionDate returns now plus DaysRemaining days.
func DepletionDate(state models.InventoryState, now time.Time) time.Time {
	return util.AddDays(now, DaysRemaining(state))
}

// DaysRemainingFromLastRefill forecasts from the newest receipt: the days of
// supply that refill provided minus the whole days since it arrived. The result
// may be negative when the supply ran out in the past. Without a receipt it
// falls back to DaysRemaining.
func DaysRemainingFromLastRefill(state models.InventoryState, now time.Time) int {
	last, ok := state.LastReceived()
	if !ok {
		return DaysRemaining(state)
	}
	if state.DailyUsageRate <= 0 {
		return UnboundedDays
	}
	supply := float64(last.ReceivedCount()) / state.DailyUsageRate
	elapsed := util.WholeDays(last.Timestamp, now)
	return int(math.Round(supply)) - elapsed
}

// Projection is a forecast snapshot for one instant.
type Projection struct {
	PillCount          int
	DailyUsageRate     float64
	DaysRemaining      int
	DepletionDate      *time.Time // nil when the supply is unbounded
	DaysFromLastRefill int
	Unbounded          bool
	Status             Status
}

// Project builds a forecast snapshot. lowThresholdDays marks LOW the same way
// the inventory reminder does.
func Project(state models.InventoryState, lowThresholdDays int, now time.Time) Projection {
	days := DaysRemaining(state)
	proj := Projection{
		PillCount:          state.CurrentPillCount,
		DailyUsageRate:     state.DailyUsageRate,
		DaysRemaining:      days,
		DaysFromLastRefill: DaysRemainingFromLastRefill(state, now),
		Unbounded:          state.DailyUsageRate <= 0,
	}

	if !proj.Unbounded {
		runout := DepletionDate(state, now)
		proj.DepletionDate = &runout
	}

	switch {
	case proj.Unbounded:
		proj.Status = StatusOK
	case state.CurrentPillCount == 0 || proj.DaysFromLastRefill < 0:
		proj.Status = StatusCritical
	case days <= lowThresholdDays:
		proj.Status = StatusLow
	default:
		proj.Status = StatusOK
	}

	return proj
}
