// Package config provides configuration management for refilltrack.
// Configurations are loaded from TOML files with XDG-compliant paths and may be
// overridden from REFILLTRACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/refilltrack/refilltrack/internal/models"
)

// Config holds the complete application configuration.
type Config struct {
	Reminders     RemindersConfig     `toml:"reminders" split_words:"true"`
	Notifications NotificationsConfig `toml:"notifications" split_words:"true"`
	Display       DisplayConfig       `toml:"display" split_words:"true"`
	Logging       LoggingConfig       `toml:"logging" split_words:"true"`
	Database      DatabaseConfig      `toml:"database" split_words:"true"`
	Metrics       MetricsConfig       `toml:"metrics" split_words:"true"`
}

// RemindersConfig is the user-facing reminder settings.
type RemindersConfig struct {
	Enabled                bool `toml:"enabled" split_words:"true"`
	InventoryThresholdDays int  `toml:"inventory_threshold_days" split_words:"true"`
	TimeThresholdDays      int  `toml:"time_threshold_days" split_words:"true"`
	DailyPillTarget        int  `toml:"daily_pill_target" split_words:"true"`
}

// NotificationsConfig controls scheduling and delivery timing.
type NotificationsConfig struct {
	LeadTime         string `toml:"lead_time" split_words:"true"`
	PollInterval     string `toml:"poll_interval" split_words:"true"`
	EvaluateInterval string `toml:"evaluate_interval" split_words:"true"`
	MaxAttempts      int    `toml:"max_attempts" split_words:"true"`
	InitialBackoff   string `toml:"initial_backoff" split_words:"true"`
	MaxBackoff       string `toml:"max_backoff" split_words:"true"`
}

// DisplayConfig controls TUI appearance.
type DisplayConfig struct {
	ColorScheme ColorScheme `toml:"color_scheme" split_words:"true"`
	DateFormat  string      `toml:"date_format" split_words:"true"`
	TimeFormat  string      `toml:"time_format" split_words:"true"`
}

// ColorScheme defines the terminal color palette.
type ColorScheme string

const (
	ColorSchemeGreen ColorScheme = "green"
	ColorSchemeAmber ColorScheme = "amber"
	ColorSchemeWhite ColorScheme = "white"
)

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level LogLevel `toml:"level" split_words:"true"`
	File  string   `toml:"file" split_words:"true"`
}

// LogLevel defines logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// DatabaseConfig controls SQLite database settings.
type DatabaseConfig struct {
	Path                string `toml:"path" split_words:"true"`
	BackupIntervalHours int    `toml:"backup_interval_hours" split_words:"true"`
	BackupRetentionDays int    `toml:"backup_retention_days" split_words:"true"`
}

// MetricsConfig controls the Prometheus endpoint served in watch mode.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr" split_words:"true"`
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Reminders.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reminders: %w", err))
	}

	if err := c.Notifications.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("notifications: %w", err))
	}

	if err := c.Display.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that the reminder thresholds are usable.
func (r *RemindersConfig) Validate() error {
	var errs []error

	if r.InventoryThresholdDays < 1 {
		errs = append(errs, errors.New("inventory_threshold_days must be positive"))
	}

	if r.TimeThresholdDays < 1 {
		errs = append(errs, errors.New("time_threshold_days must be positive"))
	}

	if r.DailyPillTarget < 1 {
		errs = append(errs, errors.New("daily_pill_target must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that durations parse and attempt limits are sane.
func (n *NotificationsConfig) Validate() error {
	var errs []error

	durations := []struct {
		name  string
		value string
	}{
		{"lead_time", n.LeadTime},
		{"poll_interval", n.PollInterval},
		{"evaluate_interval", n.EvaluateInterval},
		{"initial_backoff", n.InitialBackoff},
		{"max_backoff", n.MaxBackoff},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", d.name, err))
			continue
		}
		if parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}

	if n.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that the display configuration is valid.
func (d *DisplayConfig) Validate() error {
	validSchemes := map[ColorScheme]bool{
		ColorSchemeGreen: true,
		ColorSchemeAmber: true,
		ColorSchemeWhite: true,
	}

	if !validSchemes[d.ColorScheme] && d.ColorScheme != "" {
		return fmt.Errorf("invalid color_scheme: %s", d.ColorScheme)
	}

	return nil
}

// Validate checks that the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	validLevels := map[LogLevel]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}

	if !validLevels[l.Level] && l.Level != "" {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	return nil
}

// Validate checks that the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	var errs []error

	if d.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}

	if d.BackupIntervalHours < 0 {
		errs = append(errs, errors.New("backup_interval_hours must be non-negative"))
	}

	if d.BackupRetentionDays < 0 {
		errs = append(errs, errors.New("backup_retention_days must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Reminders: RemindersConfig{
			Enabled:                true,
			InventoryThresholdDays: 7,
			TimeThresholdDays:      30,
			DailyPillTarget:        1,
		},
		Notifications: NotificationsConfig{
			LeadTime:         "1m",
			PollInterval:     "30s",
			EvaluateInterval: "1h",
			MaxAttempts:      5,
			InitialBackoff:   "500ms",
			MaxBackoff:       "30s",
		},
		Display: DisplayConfig{
			ColorScheme: ColorSchemeGreen,
			DateFormat:  "2006-01-02",
			TimeFormat:  "15:04",
		},
		Logging: LoggingConfig{
			Level: LogLevelInfo,
			File:  "",
		},
		Database: DatabaseConfig{
			Path:                "refills.db",
			BackupIntervalHours: 24,
			BackupRetentionDays: 30,
		},
	}
}

// Settings returns the reminder snapshot for one decision cycle.
func (c *Config) Settings() models.Settings {
	return models.Settings{
		RefillRemindersEnabled:         c.Reminders.Enabled,
		InventoryReminderThresholdDays: c.Reminders.InventoryThresholdDays,
		TimeReminderThresholdDays:      c.Reminders.TimeThresholdDays,
		DailyPillTarget:                c.Reminders.DailyPillTarget,
	}
}

// Timing is the parsed notification timing.
type Timing struct {
	LeadTime         time.Duration
	PollInterval     time.Duration
	EvaluateInterval time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// Timing parses the notification durations. Call after Validate.
func (n *NotificationsConfig) Timing() (Timing, error) {
	var t Timing
	var err error

	if t.LeadTime, err = time.ParseDuration(n.LeadTime); err != nil {
		return Timing{}, fmt.Errorf("lead_time: %w", err)
	}
	if t.PollInterval, err = time.ParseDuration(n.PollInterval); err != nil {
		return Timing{}, fmt.Errorf("poll_interval: %w", err)
	}
	if t.EvaluateInterval, err = time.ParseDuration(n.EvaluateInterval); err != nil {
		return Timing{}, fmt.Errorf("evaluate_interval: %w", err)
	}
	if t.InitialBackoff, err = time.ParseDuration(n.InitialBackoff); err != nil {
		return Timing{}, fmt.Errorf("initial_backoff: %w", err)
	}
	if t.MaxBackoff, err = time.ParseDuration(n.MaxBackoff); err != nil {
		return Timing{}, fmt.Errorf("max_backoff: %w", err)
	}
	t.MaxAttempts = n.MaxAttempts

	return t, nil
}
