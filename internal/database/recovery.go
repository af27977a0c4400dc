package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// RecoveryResult indicates the outcome of a recovery attempt.
type RecoveryResult int

const (
	// RecoveryHealthy means the database was missing or passed its integrity check.
	RecoveryHealthy RecoveryResult = iota
	// RecoveryFromBackup means the database was replaced by a backup.
	RecoveryFromBackup
	// RecoveryFailed means no usable database could be produced.
	RecoveryFailed
)

func (r RecoveryResult) String() string {
	switch r {
	case RecoveryHealthy:
		return "healthy"
	case RecoveryFromBackup:
		return "restored_from_backup"
	case RecoveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecoveryReport describes what AttemptRecovery did.
type RecoveryReport struct {
	Result        RecoveryResult
	DatabasePath  string
	BackupUsed    string
	CorruptedCopy string
}

// AttemptRecovery checks dbPath before it is opened. A missing file is fine
// (first run). A file that fails its integrity check is moved aside and the
// newest backup that passes is copied into its place.
func AttemptRecovery(dbPath, backupDir string, logger *slog.Logger) (*RecoveryReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	report := &RecoveryReport{DatabasePath: dbPath}

	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		report.Result = RecoveryHealthy
		return report, nil
	}

	checkErr := checkFileIntegrity(dbPath)
	if checkErr == nil {
		report.Result = RecoveryHealthy
		return report, nil
	}

	logger.Warn("database integrity check failed", "path", dbPath, "error", checkErr)

	if backupDir == "" {
		report.Result = RecoveryFailed
		return report, fmt.Errorf("database is damaged and no backup directory is configured: %w", checkErr)
	}

	backup, err := newestValidBackup(backupDir, logger)
	if err != nil {
		report.Result = RecoveryFailed
		return report, fmt.Errorf("database is damaged and %w", err)
	}

	corrupted := dbPath + ".corrupted." + time.Now().Format("20060102-150405")
	if err := os.Rename(dbPath, corrupted); err != nil {
		logger.Warn("failed to preserve damaged database", "path", dbPath, "error", err)
	} else {
		report.CorruptedCopy = corrupted
	}
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")

	if err := copyFile(backup, dbPath); err != nil {
		report.Result = RecoveryFailed
		return report, fmt.Errorf("restoring backup %s: %w", backup, err)
	}

	report.Result = RecoveryFromBackup
	report.BackupUsed = backup
	logger.Info("database restored from backup", "path", dbPath, "backup", backup)

	return report, nil
}

// checkFileIntegrity opens dbPath read-only and runs PRAGMA integrity_check.
func checkFileIntegrity(dbPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

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

// newestValidBackup returns the most recent backup that passes an integrity check.
func newestValidBackup(backupDir string, logger *slog.Logger) (string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return "", fmt.Errorf("reading backup directory: %w", err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}

	var backups []candidate
	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, candidate{filepath.Join(backupDir, entry.Name()), info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	for _, b := range backups {
		if err := checkFileIntegrity(b.path); err != nil {
			logger.Debug("skipping damaged backup", "path", b.path, "error", err)
			continue
		}
		return b.path, nil
	}

	return "", errors.New("no valid backup found")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	return out.Sync()
}
