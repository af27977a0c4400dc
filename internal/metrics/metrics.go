// Package metrics exposes Prometheus instrumentation for refilltrack.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "refilltrack"

var (
	RemindersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "scheduled_total",
			Help:      "Notifications scheduled or replaced, per channel.",
		},
		[]string{"channel"},
	)

	RemindersCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "cancelled_total",
			Help:      "Notifications cancelled, per channel.",
		},
		[]string{"channel"},
	)

	NotifierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "notifier_failures_total",
			Help:      "Notifier calls that failed, per channel and operation.",
		},
		[]string{"channel", "op"},
	)

	Evaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "evaluations_total",
			Help:      "Reminder evaluation cycles run.",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts, by result.",
		},
		[]string{"result"},
	)

	PillCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "pill_count",
			Help:      "Current pill count.",
		},
	)

	DaysRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "days_remaining",
			Help:      "Forecast days of supply left.",
		},
	)

	WaitingForRefill = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "waiting_for_refill",
			Help:      "1 while a refill request is outstanding.",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "persist_failures_total",
			Help:      "Inventory saves that failed.",
		},
	)
)

// ObserveInventory updates the inventory gauges.
func ObserveInventory(pillCount, daysRemaining int, waiting bool) {
	PillCount.Set(float64(pillCount))
	DaysRemaining.Set(float64(daysRemaining))
	if waiting {
		WaitingForRefill.Set(1)
	} else {
		WaitingForRefill.Set(0)
	}
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
