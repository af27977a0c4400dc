package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
)

// InventoryRepository stores the single inventory row and its refill log.
type InventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository creates a new inventory repository.
func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// Load returns the persisted state, or the zero state on first run. Events come
// back in insertion order.
func (r *InventoryRepository) Load(ctx context.Context) (models.InventoryState, error) {
	state := models.ZeroInventory()

	err := r.db.QueryRowContext(ctx,
		"SELECT current_pill_count, daily_usage_rate FROM inventory WHERE id = 1",
	).Scan(&state.CurrentPillCount, &state.DailyUsageRate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.InventoryState{}, fmt.Errorf("loading inventory: %w", err)
	}

	events, err := r.ListEvents(ctx)
	if err != nil {
		return models.InventoryState{}, err
	}
	state.RefillEvents = events

	return state.Normalize(), nil
}

// ListEvents returns the refill log in insertion order.
func (r *InventoryRepository) ListEvents(ctx context.Context) ([]models.RefillEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, occurred_at, kind, pill_count FROM refill_events ORDER BY rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("querying refill events: %w", err)
	}
	defer rows.Close()

	events := []models.RefillEvent{}
	for rows.Next() {
		var e models.RefillEvent
		var occurredAt, kind string
		var pillCount sql.NullInt64

		if err := rows.Scan(&e.ID, &occurredAt, &kind, &pillCount); err != nil {
			return nil, fmt.Errorf("scanning refill event: %w", err)
		}

		if e.Timestamp, err = parseTimestamp(occurredAt); err != nil {
			return nil, err
		}
		e.Kind = models.RefillEventKind(kind)
		if !e.Kind.Valid() {
			return nil, fmt.Errorf("refill event %s has unknown kind %q", e.ID, kind)
		}
		if pillCount.Valid {
			n := int(pillCount.Int64)
			e.PillCount = &n
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating refill events: %w", err)
	}

	return events, nil
}

// Save writes the counters and appends any events not yet stored. Stored
// events are never rewritten.
func (r *InventoryRepository) Save(ctx context.Context, state models.InventoryState) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.saveCounters(ctx, tx, state); err != nil {
			return err
		}
		for _, e := range state.RefillEvents {
			if err := r.AppendEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *InventoryRepository) saveCounters(ctx context.Context, tx *sql.Tx, state models.InventoryState) error {
	query := `
		INSERT INTO inventory (id, current_pill_count, daily_usage_rate, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_pill_count = excluded.current_pill_count,
			daily_usage_rate = excluded.daily_usage_rate,
			updated_at = excluded.updated_at`

	_, err := getExecer(r.db, tx).ExecContext(ctx, query,
		state.CurrentPillCount,
		state.DailyUsageRate,
		formatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving inventory: %w", err)
	}
	return nil
}

// AppendEvent inserts e unless an event with its ID is already stored.
func (r *InventoryRepository) AppendEvent(ctx context.Context, tx *sql.Tx, e models.RefillEvent) error {
	query := `
		INSERT INTO refill_events (id, occurred_at, kind, pill_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := getExecer(r.db, tx).ExecContext(ctx, query,
		e.ID,
		formatTimestamp(e.Timestamp),
		string(e.Kind),
		nullableInt(e.PillCount),
	)
	if err != nil {
		return fmt.Errorf("inserting refill event %s: %w", e.ID, err)
	}
	return nil
}

// Reset deletes the inventory and its whole refill log.
func (r *InventoryRepository) Reset(ctx context.Context) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM refill_events"); err != nil {
			return fmt.Errorf("clearing refill events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM inventory"); err != nil {
			return fmt.Errorf("clearing inventory: %w", err)
		}
		return nil
	})
}
