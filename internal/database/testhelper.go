package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/refilltrack/refilltrack/internal/config"
	_ "modernc.org/sqlite"
)

// NewInMemory opens a private in-memory database for tests. It does not run
// migrations.
func NewInMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// Each connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		path:   ":memory:",
		cfg:    config.DatabaseConfig{},
		logger: slog.Default(),
	}, nil
}
