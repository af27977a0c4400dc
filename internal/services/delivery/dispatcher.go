// Package delivery hands due notifications to whatever actually shows them.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/refilltrack/refilltrack/internal/metrics"
	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/util"
)

// Deliverer shows one notification to the user.
type Deliverer interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, n models.Notification) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// WriterDeliverer prints notifications as single lines.
type WriterDeliverer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterDeliverer creates a deliverer writing to w.
func NewWriterDeliverer(w io.Writer) *WriterDeliverer {
	return &WriterDeliverer{w: w}
}

// Deliver writes "[fire time] title: body".
func (d *WriterDeliverer) Deliver(_ context.Context, n models.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(d.w, "[%s] %s: %s\n", util.FormatDateTime(n.FireAt), n.Title, n.Body)
	return err
}

// Queue is the store of scheduled notifications.
type Queue interface {
	Due(ctx context.Context, now time.Time) ([]*models.Notification, error)
	MarkDelivered(ctx context.Context, key string, at time.Time) error
	RecordFailure(ctx context.Context, key string, cause error) error
}

// Options bound the retries within one dispatch.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions matches the default [notifications] config.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Dispatcher delivers due notifications from a Queue.
type Dispatcher struct {
	queue     Queue
	deliverer Deliverer
	clock     util.Clock
	opts      Options
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(queue Queue, deliverer Deliverer, clock util.Clock, opts Options, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = util.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{
		queue:     queue,
		deliverer: deliverer,
		clock:     clock,
		opts:      opts,
		logger:    logger,
	}
}

// DispatchDue delivers every notification whose fire time has passed and
// returns how many were delivered. A notification that still fails after
// MaxAttempts tries keeps its row, with the failure recorded, and is tried
// again on the next call.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.queue.Due(ctx, d.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("listing due notifications: %w", err)
	}

	delivered := 0
	var errs []error

	for _, n := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := d.deliver(ctx, *n); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			d.logger.Warn("notification delivery failed", "key", n.Key, "error", err)
			if recErr := d.queue.RecordFailure(ctx, n.Key, err); recErr != nil {
				errs = append(errs, fmt.Errorf("recording failure for %s: %w", n.Key, recErr))
			}
			continue
		}

		if err := d.queue.MarkDelivered(ctx, n.Key, d.clock.Now()); err != nil {
			errs = append(errs, fmt.Errorf("marking %s delivered: %w", n.Key, err))
			continue
		}

		metrics.Deliveries.WithLabelValues("delivered").Inc()
		d.logger.Info("notification delivered", "key", n.Key, "fire_at", n.FireAt)
		delivered++
	}

	return delivered, errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.opts.InitialBackoff
	exp.MaxInterval = d.opts.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.opts.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := d.deliverer.Deliver(ctx, n)
		if err != nil {
			metrics.Deliveries.WithLabelValues("attempt_failed").Inc()
			d.logger.Debug("delivery attempt failed", "key", n.Key, "attempt", attempt, "error", err)
		}
		return err
	}, policy)
}

// Run dispatches on every tick of interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchDue(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatching notifications", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
