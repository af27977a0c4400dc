// Package testutil provides utilities for testing.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/refilltrack/refilltrack/internal/database"
)

// TestDB wraps a migrated in-memory database.
type TestDB struct {
	*database.DB
}

// NewTestDB creates an in-memory SQLite database with every migration applied.
// It is closed when the test ends.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if _, err := database.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	tdb := &TestDB{DB: db}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	return tdb
}

// SQL returns the underlying connection pool for repository constructors.
func (tdb *TestDB) SQL() *sql.DB {
	return tdb.DB.DB
}

// AssertRowCount asserts the row count for a table.
func (tdb *TestDB) AssertRowCount(t *testing.T, table string, expected int) {
	t.Helper()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := tdb.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}

	if count != expected {
		t.Errorf("expected %d rows in %s, got %d", expected, table, count)
	}
}

// ExecSQL executes arbitrary SQL (useful for test setup).
func (tdb *TestDB) ExecSQL(t *testing.T, sql string, args ...any) {
	t.Helper()

	if _, err := tdb.Exec(sql, args...); err != nil {
		t.Fatalf("failed to execute SQL: %v\nSQL: %s", err, sql)
	}
}
