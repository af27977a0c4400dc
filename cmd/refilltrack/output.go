package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/refilltrack/refilltrack/internal/config"
	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/services/inventory"
	"github.com/refilltrack/refilltrack/internal/util"
)

// statusDocument is the `status --json` output. State uses the persisted
// encoding so it can be fed back into other tools unchanged.
type statusDocument struct {
	At               time.Time       `json:"at"`
	State            json.RawMessage `json:"state"`
	MachineState     string          `json:"machine_state"`
	Forecast         forecastJSON    `json:"forecast"`
	DaysSinceRefill  int             `json:"days_since_refill"`
	RequestedAt      *time.Time      `json:"requested_at,omitempty"`
	ActiveReminders  []string        `json:"active_reminders"`
	PendingReminders []string        `json:"pending_reminders"`
}

type forecastJSON struct {
	PillCount          int        `json:"pill_count"`
	DailyUsageRate     float64    `json:"daily_usage_rate"`
	DaysRemaining      int        `json:"days_remaining"`
	DepletionDate      *time.Time `json:"depletion_date,omitempty"`
	DaysFromLastRefill int        `json:"days_from_last_refill"`
	Unbounded          bool       `json:"unbounded"`
	Status             string     `json:"status"`
}

func writeStatusJSON(w io.Writer, status *inventory.Status) error {
	state, err := models.MarshalState(status.State)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dec := status.Decision
	doc := statusDocument{
		At:           status.At.UTC(),
		State:        state,
		MachineState: dec.State.String(),
		Forecast: forecastJSON{
			PillCount:          dec.Forecast.PillCount,
			DailyUsageRate:     dec.Forecast.DailyUsageRate,
			DaysRemaining:      dec.Forecast.DaysRemaining,
			DepletionDate:      dec.Forecast.DepletionDate,
			DaysFromLastRefill: dec.Forecast.DaysFromLastRefill,
			Unbounded:          dec.Forecast.Unbounded,
			Status:             dec.Forecast.Status.String(),
		},
		DaysSinceRefill:  dec.DaysSinceRefill,
		ActiveReminders:  nonNil(dec.Active()),
		PendingReminders: nonNil(status.Pending),
	}
	if !dec.RequestedAt.IsZero() {
		requested := dec.RequestedAt.UTC()
		doc.RequestedAt = &requested
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func printStatus(w io.Writer, cfg *config.Config, status *inventory.Status) {
	dec := status.Decision
	proj := dec.Forecast

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", dec.State)
	fmt.Fprintf(tw, "Pills:\t%d\n", proj.PillCount)
	fmt.Fprintf(tw, "Daily use:\t%g\n", proj.DailyUsageRate)
	if proj.Unbounded {
		fmt.Fprintf(tw, "Days left:\tunbounded\n")
	} else {
		fmt.Fprintf(tw, "Days left:\t%d (%s)\n", proj.DaysRemaining, proj.Status)
		fmt.Fprintf(tw, "Runs out:\t%s\n", formatDate(cfg, *proj.DepletionDate))
	}
	fmt.Fprintf(tw, "Since refill:\t%s\n", util.Plural(dec.DaysSinceRefill, "day"))
	if !dec.RequestedAt.IsZero() {
		fmt.Fprintf(tw, "Requested:\t%s (%s ago)\n", formatDate(cfg, dec.RequestedAt), util.Plural(dec.DaysSinceRequest, "day"))
	}
	fmt.Fprintf(tw, "Active reminders:\t%s\n", listOrNone(dec.Active()))
	fmt.Fprintf(tw, "Scheduled:\t%s\n", listOrNone(status.Pending))
	tw.Flush()
}

// printResult writes the new state and what the scheduler did. Channel
// failures go to errw; they never fail the command.
func printResult(w, errw io.Writer, cfg *config.Config, result *inventory.Result) {
	if result == nil {
		return
	}

	state := result.State
	fmt.Fprintf(w, "%s: %s, %s\n",
		state.MachineState(),
		util.Plural(state.CurrentPillCount, "pill"),
		describeForecast(result),
	)

	report := result.Report
	if report == nil {
		return
	}
	for _, n := range report.Scheduled {
		fmt.Fprintf(w, "  scheduled %s at %s\n", n.Key, formatDateTime(cfg, n.FireAt))
	}
	if len(report.Cancelled) > 0 {
		fmt.Fprintf(w, "  cancelled %s\n", strings.Join(report.Cancelled, ", "))
	}
	for _, f := range report.Failures {
		fmt.Fprintf(errw, "warning: reminder %v\n", f)
	}
}

func describeForecast(result *inventory.Result) string {
	if result.State.DailyUsageRate <= 0 {
		return "no daily usage set"
	}
	if result.Report == nil {
		return "no forecast"
	}
	proj := result.Report.Decision.Forecast
	return fmt.Sprintf("%s left (%s)", util.Plural(proj.DaysRemaining, "day"), proj.Status)
}

func printHistory(w io.Writer, cfg *config.Config, events []models.RefillEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No refill history.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tEVENT\tPILLS")
	for _, e := range events {
		pills := "-"
		if e.PillCount != nil {
			pills = fmt.Sprint(*e.PillCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", formatDateTime(cfg, e.Timestamp), e.Kind, pills)
	}
	tw.Flush()
}

func printNotifications(w io.Writer, cfg *config.Config, notifications []*models.Notification) {
	if len(notifications) == 0 {
		fmt.Fprintln(w, "No reminders scheduled.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tFIRES\tSTATUS\tATTEMPTS\tTITLE")
	for _, n := range notifications {
		state := "pending"
		if n.DeliveredAt != nil {
			state = "delivered " + formatDateTime(cfg, *n.DeliveredAt)
		} else if n.LastError != "" {
			state = "retrying"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.Key, formatDateTime(cfg, n.FireAt), state, n.Attempts, n.Title)
	}
	tw.Flush()
}

func listOrNone(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return strings.Join(keys, ", ")
}

func formatDate(cfg *config.Config, t time.Time) string {
	return t.Local().Format(cfg.Display.DateFormat)
}

func formatDateTime(cfg *config.Config, t time.Time) string {
	return t.Local().Format(cfg.Display.DateFormat + " " + cfg.Display.TimeFormat)
}

