// Package database manages the SQLite file that holds the inventory and the
// notification queue: WAL-mode connection setup, embedded migrations, backups
// and startup recovery.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/refilltrack/refilltrack/internal/config"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned for operations on a closed database.
var ErrClosed = errors.New("database is closed")

// backupPrefix names backup files refills-YYYYMMDD-HHMMSS.db.
const backupPrefix = "refills-"

// DB wraps a sql.DB with backup and shutdown handling.
type DB struct {
	*sql.DB
	path      string
	cfg       config.DatabaseConfig
	backupDir string
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open connects to the database at dbPath in WAL mode with a single writer.
// An integrity failure is logged, not returned; run AttemptRecovery first when
// the file may be damaged.
func Open(dbPath string, cfg config.DatabaseConfig, backupDir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)", dbPath)
	sqlDB, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{
		DB:        sqlDB,
		path:      dbPath,
		cfg:       cfg,
		backupDir: backupDir,
		logger:    logger,
	}

	if err := db.initPragmas(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initializing pragmas: %w", err)
	}

	if err := db.CheckIntegrity(context.Background()); err != nil {
		logger.Warn("database integrity check failed", "error", err)
	}

	return db, nil
}

func (db *DB) initPragmas() error {
	pragmas := []struct {
		name   string
		pragma string
	}{
		{"journal_mode", "PRAGMA journal_mode=WAL"},
		{"synchronous", "PRAGMA synchronous=NORMAL"},
		{"busy_timeout", "PRAGMA busy_timeout=5000"},
		{"foreign_keys", "PRAGMA foreign_keys=ON"},
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p.pragma); err != nil {
			return fmt.Errorf("setting %s: %w", p.name, err)
		}
	}

	return nil
}

// CheckIntegrity runs PRAGMA integrity_check and fails unless it reports "ok".
func (db *DB) CheckIntegrity(ctx context.Context) error {
	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	results, err := scanStrings(rows)
	if err != nil {
		return err
	}

	if len(results) == 1 && results[0] == "ok" {
		return nil
	}

	return fmt.Errorf("integrity check failed: %s", strings.Join(results, "; "))
}

// Checkpoint flushes the WAL into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database into the backup directory
// and prunes copies older than the retention period.
func (db *DB) Backup(ctx context.Context) (string, error) {
	if db.IsClosed() {
		return "", ErrClosed
	}
	if db.backupDir == "" {
		return "", errors.New("backup directory not configured")
	}
	if err := os.MkdirAll(db.backupDir, 0750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now()
	backupPath := filepath.Join(db.backupDir, backupPrefix+now.Format("20060102-150405")+".db")

	if err := db.Checkpoint(ctx); err != nil {
		db.logger.Warn("checkpoint before backup failed", "error", err)
	}

	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}

	db.logger.Info("database backup created", "path", backupPath)

	if db.cfg.BackupRetentionDays > 0 {
		removed, err := db.PruneBackups(now)
		if err != nil {
			db.logger.Warn("pruning backups failed", "error", err)
		} else if removed > 0 {
			db.logger.Debug("pruned old backups", "removed", removed)
		}
	}

	return backupPath, nil
}

// PruneBackups removes refills-*.db backups older than the retention period.
func (db *DB) PruneBackups(now time.Time) (int, error) {
	if db.backupDir == "" || db.cfg.BackupRetentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -db.cfg.BackupRetentionDays)

	entries, err := os.ReadDir(db.backupDir)
	if err != nil {
		return 0, fmt.Errorf("reading backup directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(db.backupDir, entry.Name())
		if err := os.Remove(path); err != nil {
			db.logger.Warn("removing old backup", "path", path, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}

// RunBackups takes a backup every backup_interval_hours until ctx is done.
// It returns immediately when scheduled backups are disabled.
func (db *DB) RunBackups(ctx context.Context) {
	if db.cfg.BackupIntervalHours <= 0 || db.backupDir == "" {
		return
	}

	ticker := time.NewTicker(time.Duration(db.cfg.BackupIntervalHours) * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			backupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			if _, err := db.Backup(backupCtx); err != nil {
				db.logger.Error("scheduled backup failed", "error", err)
			}
			cancel()
		}
	}
}

// Close checkpoints the WAL and closes the connection. Calling it twice is safe.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if db.path != ":memory:" {
		if err := db.Checkpoint(ctx); err != nil {
			db.logger.Warn("final checkpoint failed", "error", err)
		}
	}

	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	db.logger.Debug("database closed", "path", db.path)
	return nil
}

// IsClosed reports whether Close has been called.
func (db *DB) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// WithTransaction runs fn in a transaction, committing if it returns nil.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if db.IsClosed() {
		return ErrClosed
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after error %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, ".db")
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return out, nil
}
