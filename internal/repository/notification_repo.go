package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
)

// NotificationRepository is the SQLite-backed notifier: one row per channel
// key, pending until delivered.
type NotificationRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db, now: time.Now}
}

const notificationColumns = `key, fire_at, title, body, created_at, delivered_at, attempts, last_error`

// Schedule stores n, replacing any notification with the same key. Delivery
// bookkeeping is reset only when the fire time moves, so rescheduling the same
// slot neither re-delivers it nor forgets earlier attempts.
func (r *NotificationRepository) Schedule(ctx context.Context, n models.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, NULL, 0, NULL)
		ON CONFLICT(key) DO UPDATE SET
			fire_at = excluded.fire_at,
			title = excluded.title,
			body = excluded.body,
			created_at = excluded.created_at,
			delivered_at = CASE WHEN notifications.fire_at = excluded.fire_at THEN notifications.delivered_at END,
			attempts = CASE WHEN notifications.fire_at = excluded.fire_at THEN notifications.attempts ELSE 0 END,
			last_error = CASE WHEN notifications.fire_at = excluded.fire_at THEN notifications.last_error END`

	_, err := r.db.ExecContext(ctx, query,
		n.Key,
		formatTimestamp(n.FireAt),
		n.Title,
		n.Body,
		formatTimestamp(r.now()),
	)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", n.Key, err)
	}
	return nil
}

// Cancel removes the given keys. Unknown keys are ignored.
func (r *NotificationRepository) Cancel(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	_, err := r.db.ExecContext(ctx, "DELETE FROM notifications WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", strings.Join(keys, ", "), err)
	}
	return nil
}

// ListPending returns the keys not yet delivered.
func (r *NotificationRepository) ListPending(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key FROM notifications WHERE delivered_at IS NULL ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying pending notifications: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending notifications: %w", err)
	}

	return keys, nil
}

// Get retrieves a notification by key.
func (r *NotificationRepository) Get(ctx context.Context, key string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+notificationColumns+" FROM notifications WHERE key = ?", key)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", key, ErrNotFound)
	}
	return n, err
}

// List returns every stored notification ordered by fire time.
func (r *NotificationRepository) List(ctx context.Context) ([]*models.Notification, error) {
	return r.query(ctx, "SELECT "+notificationColumns+" FROM notifications ORDER BY fire_at, key")
}

// Due returns undelivered notifications whose fire time is at or before now.
func (r *NotificationRepository) Due(ctx context.Context, now time.Time) ([]*models.Notification, error) {
	return r.query(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE delivered_at IS NULL AND fire_at <= ? ORDER BY fire_at, key",
		formatTimestamp(now),
	)
}

// MarkDelivered records a successful delivery.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, key string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET delivered_at = ?, attempts = attempts + 1, last_error = NULL WHERE key = ?",
		formatTimestamp(at), key,
	)
	if err != nil {
		return fmt.Errorf("marking %s delivered: %w", key, err)
	}
	return requireRow(res, key)
}

// RecordFailure counts a failed delivery attempt. The notification stays due.
func (r *NotificationRepository) RecordFailure(ctx context.Context, key string, cause error) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET attempts = attempts + 1, last_error = ? WHERE key = ?",
		nullableString(cause.Error()), key,
	)
	if err != nil {
		return fmt.Errorf("recording failure for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var fireAt, createdAt string
	var deliveredAt, lastError sql.NullString

	err := row.Scan(&n.Key, &fireAt, &n.Title, &n.Body, &createdAt, &deliveredAt, &n.Attempts, &lastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning notification: %w", err)
	}

	if n.FireAt, err = parseTimestamp(fireAt); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		t, err := parseTimestamp(deliveredAt.String)
		if err != nil {
			return nil, err
		}
		n.DeliveredAt = &t
	}
	if lastError.Valid {
		n.LastError = lastError.String
	}

	return &n, nil
}

func requireRow(res sql.Result, key string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification %s: %w", key, ErrNotFound)
	}
	return nil
}
