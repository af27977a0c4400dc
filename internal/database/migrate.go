package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationName = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// Migration is one numbered schema change.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
	Applied     bool
	AppliedAt   time.Time
}

// MigrationResult describes a migration run.
type MigrationResult struct {
	Applied        []Migration
	CurrentVersion int
	TargetVersion  int
}

// Migrator applies the embedded migrations.
type Migrator struct {
	db         *DB
	migrations []Migration
}

// NewMigrator loads the embedded migrations and ensures the bookkeeping table.
func NewMigrator(db *DB) (*Migrator, error) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	m := &Migrator{db: db, migrations: migrations}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	return m, nil
}

// Migrate opens a migrator and applies everything pending.
func Migrate(ctx context.Context, db *DB) (*MigrationResult, error) {
	m, err := NewMigrator(db)
	if err != nil {
		return nil, err
	}
	return m.MigrateUp(ctx)
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationName.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, _ := strconv.Atoi(matches[1])
		content, err := fs.ReadFile(fsys, path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		up, down := parseMigration(string(content))
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(matches[2], "_", " "),
			UpSQL:       up,
			DownSQL:     down,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// parseMigration splits a file on its markers:
//
//	-- +migrate Up
//	SQL statements...
//	-- +migrate Down
//	SQL statements...
//
// A file without markers is all Up.
func parseMigration(content string) (upSQL, downSQL string) {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"

	upIdx := strings.Index(content, upMarker)
	downIdx := strings.Index(content, downMarker)

	switch {
	case upIdx == -1:
		return strings.TrimSpace(content), ""
	case downIdx == -1:
		return strings.TrimSpace(content[upIdx+len(upMarker):]), ""
	case upIdx < downIdx:
		return strings.TrimSpace(content[upIdx+len(upMarker) : downIdx]),
			strings.TrimSpace(content[downIdx+len(downMarker):])
	default:
		return strings.TrimSpace(content[upIdx+len(upMarker):]),
			strings.TrimSpace(content[downIdx+len(downMarker) : upIdx])
	}
}

// CurrentVersion returns the highest applied version, or 0.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("querying current version: %w", err)
	}
	return version, nil
}

// LatestVersion returns the highest embedded version.
func (m *Migrator) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// MigrateUp applies every pending migration, each in its own transaction.
func (m *Migrator) MigrateUp(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{CurrentVersion: current, TargetVersion: current}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}

		m.db.logger.Info("applying migration", "version", mig.Version, "description", mig.Description)

		if err := m.run(ctx, mig.UpSQL, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
				mig.Version, mig.Description,
			)
			return err
		}); err != nil {
			return result, fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}

		mig.Applied = true
		mig.AppliedAt = time.Now()
		result.Applied = append(result.Applied, mig)
		result.TargetVersion = mig.Version
	}

	if len(result.Applied) == 0 {
		m.db.logger.Debug("database is up to date", "version", current)
	}

	return result, nil
}

// MigrateDown rolls back the newest applied migration.
func (m *Migrator) MigrateDown(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{CurrentVersion: current, TargetVersion: current}

	if current == 0 {
		return result, errors.New("no migrations to roll back")
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == current {
			mig = &m.migrations[i]
			break
		}
	}

	if mig == nil {
		return result, fmt.Errorf("migration %d not found", current)
	}
	if mig.DownSQL == "" {
		return result, fmt.Errorf("migration %d has no rollback SQL", current)
	}

	m.db.logger.Info("rolling back migration", "version", mig.Version, "description", mig.Description)

	if err := m.run(ctx, mig.DownSQL, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", mig.Version)
		return err
	}); err != nil {
		return result, fmt.Errorf("rollback %d failed: %w", mig.Version, err)
	}

	result.Applied = append(result.Applied, *mig)
	result.TargetVersion, err = m.CurrentVersion(ctx)
	if err != nil {
		return result, err
	}

	return result, nil
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		t, _ := time.Parse(time.DateTime, appliedAt)
		applied[version] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	result := make([]Migration, len(m.migrations))
	for i, mig := range m.migrations {
		result[i] = mig
		if t, ok := applied[mig.Version]; ok {
			result[i].Applied = true
			result[i].AppliedAt = t
		}
	}

	return result, nil
}

// run executes script then record in one transaction.
func (m *Migrator) run(ctx context.Context, script string, record func(tx *sql.Tx) error) error {
	return m.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range splitStatements(script) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing statement: %w\nSQL: %s", err, stmt)
			}
		}
		if err := record(tx); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// splitStatements splits on semicolons outside quoted strings. Line comments
// are dropped, so a semicolon inside one does not end a statement.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	var quote rune
	inComment := false

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
				current.WriteRune(ch)
			}
		case quote != 0:
			current.WriteRune(ch)
			if ch == quote {
				quote = 0
			}
		case ch == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case ch == '\'' || ch == '"':
			quote = ch
			current.WriteRune(ch)
		case ch == ';':
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()

	return statements
}
