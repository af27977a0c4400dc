package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/refilltrack/refilltrack/internal/config"
	"github.com/refilltrack/refilltrack/internal/database"
	"github.com/refilltrack/refilltrack/internal/repository"
	"github.com/refilltrack/refilltrack/internal/services/inventory"
	"github.com/refilltrack/refilltrack/internal/services/reminders"
	"github.com/refilltrack/refilltrack/internal/util"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	at         string
}

// runtime is everything a command needs, opened in dependency order.
type runtime struct {
	cfg     *config.Config
	cfgPath string
	timing  config.Timing
	logger  *slog.Logger
	clock   util.Clock

	db            *database.DB
	inventory     *repository.InventoryRepository
	notifications *repository.NotificationRepository
	scheduler     *reminders.Scheduler
	svc           *inventory.Service

	closers []func() error
}

type setupMode int

const (
	// setupFull opens and migrates the database and loads the inventory.
	setupFull setupMode = iota
	// setupDatabaseOnly opens the database without migrating it.
	setupDatabaseOnly
)

// setup loads configuration, logging and the clock, then opens the database.
// quietLogs sends text logs nowhere so a full-screen UI is not overwritten.
func setup(ctx context.Context, opts *globalOptions, stderr io.Writer, mode setupMode, quietLogs bool) (*runtime, error) {
	cfg, cfgPath, err := config.Load(opts.configPath, true)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	timing, err := cfg.Notifications.Timing()
	if err != nil {
		return nil, fmt.Errorf("notification timing: %w", err)
	}

	rt := &runtime{cfg: cfg, cfgPath: cfgPath, timing: timing}

	if quietLogs {
		stderr = io.Discard
	}
	if err := rt.setupLogging(opts.debug, stderr); err != nil {
		return nil, err
	}

	rt.clock, err = clockFor(opts.at)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if err := rt.openDatabase(ctx, mode); err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func clockFor(at string) (util.Clock, error) {
	if at == "" {
		return util.SystemClock{}, nil
	}
	t, err := util.ParseTimestamp(at)
	if err != nil {
		return nil, fmt.Errorf("invalid --at time %q: %w", at, err)
	}
	return util.NewManualClock(t), nil
}

func (rt *runtime) setupLogging(debug bool, stderr io.Writer) error {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	} else {
		switch rt.cfg.Logging.Level {
		case config.LogLevelDebug:
			logLevel = slog.LevelDebug
		case config.LogLevelWarn:
			logLevel = slog.LevelWarn
		case config.LogLevelError:
			logLevel = slog.LevelError
		}
	}

	logPath, err := config.EnsureLogDir(rt.cfg)
	if err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	var handler slog.Handler
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		rt.closers = append(rt.closers, logFile.Close)
		handler = slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})
	}

	rt.logger = slog.New(handler)
	slog.SetDefault(rt.logger)

	rt.logger.Debug("refilltrack starting",
		"version", Version,
		"build_time", BuildTime,
		"config_path", rt.cfgPath,
	)
	return nil
}

func (rt *runtime) openDatabase(ctx context.Context, mode setupMode) error {
	dbPath, err := config.EnsureDataDir(rt.cfg)
	if err != nil {
		return fmt.Errorf("ensuring data directory: %w", err)
	}

	backupDir, err := config.BackupDir(rt.cfg)
	if err != nil {
		rt.logger.Warn("failed to create backup directory", "error", err)
		backupDir = ""
	}

	report, err := database.AttemptRecovery(dbPath, backupDir, rt.logger)
	if err != nil {
		return fmt.Errorf("database recovery failed: %w", err)
	}
	if report.Result == database.RecoveryFromBackup {
		rt.logger.Warn("database restored from backup", "backup", report.BackupUsed, "damaged_copy", report.CorruptedCopy)
	}

	db, err := database.Open(dbPath, rt.cfg.Database, backupDir, rt.logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, db.Close)

	if mode == setupDatabaseOnly {
		return nil
	}

	result, err := database.Migrate(ctx, db)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if len(result.Applied) > 0 {
		rt.logger.Info("applied migrations", "count", len(result.Applied), "to_version", result.TargetVersion)
	}

	rt.inventory = repository.NewInventoryRepository(db.DB)
	rt.notifications = repository.NewNotificationRepository(db.DB)
	rt.scheduler = reminders.NewScheduler(rt.notifications, rt.timing.LeadTime, rt.logger)
	rt.svc = inventory.NewService(rt.inventory, rt.scheduler, rt.cfg, rt.clock, rt.logger)

	if err := rt.svc.Load(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.logger != nil {
			rt.logger.Error("error during shutdown", "error", err)
		}
	}
	rt.closers = nil
}
