package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	// DefaultConfigFileName is the standard configuration file name.
	DefaultConfigFileName = "refilltrack.toml"

	// XDGConfigSubdir is the subdirectory under XDG_CONFIG_HOME and XDG_DATA_HOME.
	XDGConfigSubdir = "refilltrack"

	// EnvPrefix prefixes environment overrides, e.g. REFILLTRACK_REMINDERS_ENABLED.
	EnvPrefix = "REFILLTRACK"
)

const generatedHeader = `# refilltrack configuration
#
# Generated on first run. Any value below can be overridden from the
# environment, e.g. REFILLTRACK_REMINDERS_INVENTORY_THRESHOLD_DAYS=10

`

var errNoConfig = errors.New("no configuration file found")

// LoadError reports a configuration file that exists but could not be used.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load resolves the configuration file and returns the parsed Config with
// REFILLTRACK_* overrides applied, along with the path it came from.
//
// An explicit path is used alone. Otherwise the XDG location is tried before
// ./refilltrack.toml. When neither exists and createDefault is set, defaults
// are written to the first writable candidate; if none is writable the
// in-memory defaults are returned with an empty path.
func Load(explicitPath string, createDefault bool) (*Config, string, error) {
	if explicitPath != "" {
		return loadCandidate(explicitPath)
	}

	candidates := searchPaths()
	for _, path := range candidates {
		if fileExists(path) {
			return loadCandidate(path)
		}
	}

	if !createDefault {
		return nil, "", fmt.Errorf("%w; searched: %s", errNoConfig, strings.Join(candidates, ", "))
	}

	cfg, err := finish(Default())
	if err != nil {
		return nil, "", err
	}
	for _, path := range candidates {
		// The file records defaults only; env overrides stay in the environment.
		if err := Save(Default(), path); err == nil {
			return cfg, path, nil
		}
	}
	return cfg, "", nil
}

// ApplyEnv overlays REFILLTRACK_* environment variables onto cfg. Unset
// variables leave the existing values alone.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// Save writes cfg as TOML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := ensureParent(path); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf strings.Builder
	buf.WriteString(generatedHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func loadCandidate(path string) (*Config, string, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &LoadError{Path: path, Err: fmt.Errorf("reading file: %w", err)}
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, "", &LoadError{Path: path, Err: fmt.Errorf("parsing TOML: %w", err)}
	}
	if cfg, err = finish(cfg); err != nil {
		return nil, "", &LoadError{Path: path, Err: err}
	}
	return cfg, path, nil
}

// finish applies env overrides and validates the result.
func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// searchPaths lists config file locations in precedence order.
func searchPaths() []string {
	var paths []string
	if dir := configHome(); dir != "" {
		paths = append(paths, filepath.Join(dir, XDGConfigSubdir, DefaultConfigFileName))
	}
	return append(paths, filepath.Join(".", DefaultConfigFileName))
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return ""
}

// dataHome is the refilltrack directory under XDG_DATA_HOME, or "" when no
// home directory can be determined.
func dataHome() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, XDGConfigSubdir)
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0750)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDataDir returns the database path to open. Absolute paths are used
// as given; relative ones are placed under the XDG data directory when it
// can be created, and left relative to the working directory otherwise.
func EnsureDataDir(cfg *Config) (string, error) {
	dbPath := cfg.Database.Path
	if filepath.IsAbs(dbPath) {
		if err := ensureParent(dbPath); err != nil {
			return "", fmt.Errorf("creating database directory: %w", err)
		}
		return dbPath, nil
	}

	dir := dataHome()
	if dir == "" || os.MkdirAll(dir, 0750) != nil {
		return dbPath, nil
	}
	return filepath.Join(dir, dbPath), nil
}

// EnsureLogDir returns the log file path, creating its directory. An empty
// result means file logging is off.
func EnsureLogDir(cfg *Config) (string, error) {
	logPath := cfg.Logging.File
	if logPath == "" {
		return "", nil
	}
	if err := ensureParent(logPath); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return logPath, nil
}

// BackupDir returns the directory for database backups, next to the
// database it protects.
func BackupDir(cfg *Config) (string, error) {
	var dir string
	switch {
	case filepath.IsAbs(cfg.Database.Path):
		dir = filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
	case dataHome() != "":
		dir = filepath.Join(dataHome(), "backups")
	default:
		dir = "backups"
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	return dir, nil
}
