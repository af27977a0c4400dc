package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/refilltrack/refilltrack/internal/metrics"
	"github.com/refilltrack/refilltrack/internal/services/delivery"
	"github.com/refilltrack/refilltrack/internal/services/inventory"
	"github.com/refilltrack/refilltrack/internal/util"
)

// dayCheckInterval is how often watch looks for a calendar-day rollover.
const dayCheckInterval = time.Minute

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run in the foreground, printing reminders as they come due",
		Long: `Watch keeps reminders current and delivers them to standard output.
It re-evaluates on evaluate_interval and at every day change, dispatches due
reminders on poll_interval, takes scheduled database backups and, when
metrics.listen_addr is set, serves Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				return runWatch(cmd.Context(), cmd, rt)
			})
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
	dispatcher := delivery.NewDispatcher(
		rt.notifications,
		delivery.NewWriterDeliverer(cmd.OutOrStdout()),
		rt.clock,
		delivery.Options{
			MaxAttempts:    rt.timing.MaxAttempts,
			InitialBackoff: rt.timing.InitialBackoff,
			MaxBackoff:     rt.timing.MaxBackoff,
		},
		rt.logger,
	)

	if err := evaluate(ctx, rt); err != nil {
		return err
	}

	rt.logger.Info("watching reminders",
		"poll_interval", rt.timing.PollInterval,
		"evaluate_interval", rt.timing.EvaluateInterval,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return evaluateLoop(gctx, rt)
	})
	g.Go(func() error {
		dispatcher.Run(gctx, rt.timing.PollInterval)
		return nil
	})
	g.Go(func() error {
		rt.db.RunBackups(gctx)
		return nil
	})
	if addr := rt.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, rt.logger)
		})
	}

	err := g.Wait()
	rt.logger.Info("watch stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// evaluateLoop re-evaluates on every interval tick and as soon as the
// calendar day changes. Persistence failures are logged and retried on the
// next tick.
func evaluateLoop(ctx context.Context, rt *runtime) error {
	ticker := time.NewTicker(rt.timing.EvaluateInterval)
	defer ticker.Stop()
	dayTicker := time.NewTicker(dayCheckInterval)
	defer dayTicker.Stop()

	lastDay := rt.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-dayTicker.C:
			if util.IsSameDay(lastDay, rt.clock.Now()) {
				continue
			}
			rt.logger.Debug("day changed, re-evaluating reminders")
		}

		lastDay = rt.clock.Now()
		if err := evaluate(ctx, rt); err != nil && ctx.Err() == nil {
			rt.logger.Error("evaluating reminders", "error", err)
		}
	}
}

func evaluate(ctx context.Context, rt *runtime) error {
	result, err := rt.svc.Evaluate(ctx)

	var persistErr *inventory.PersistError
	if err != nil && !errors.As(err, &persistErr) {
		return err
	}
	if result != nil && result.Report != nil {
		for _, f := range result.Report.Failures {
			rt.logger.Warn("reminder channel failed", "key", f.Key, "op", f.Op, "error", f.Err)
		}
	}
	return err
}
