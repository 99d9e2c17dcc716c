package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for kbwatch.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Watch      WatchConfig      `toml:"watch"`
	Database   DatabaseConfig   `toml:"database"`
	Classifier ClassifierConfig `toml:"classifier"`
	Retention  RetentionConfig  `toml:"retention"`
	Backup     BackupConfig     `toml:"backup"`
}

// WatchConfig holds detector and coordinator settings.
type WatchConfig struct {
	Paths            []string `toml:"paths"`              // files or directories to watch
	DebounceMS       int      `toml:"debounce_ms"`        // debounce window; 0 uses the built-in default
	SweepIntervalSec int      `toml:"sweep_interval_sec"` // periodic re-read interval
	QueueSize        int      `toml:"queue_size"`         // bounded candidate queue capacity
	Transforms       []string `toml:"transforms"`         // content transforms applied in order
}

// Debounce returns the configured debounce window as a duration.
// A zero setting means "use the default"; a negative one disables it.
func (w WatchConfig) Debounce(def time.Duration) time.Duration {
	if w.DebounceMS == 0 {
		return def
	}
	if w.DebounceMS < 0 {
		return 0
	}
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// SweepInterval returns the configured sweep interval as a duration.
func (w WatchConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepIntervalSec) * time.Second
}

// DatabaseConfig holds the ledger store settings.
type DatabaseConfig struct {
	Path string `toml:"path"` // defaults to <base_dir>/kbwatch.db
}

// ClassifierConfig selects and tunes the impact strategy.
// This uses a tagged union pattern - the Strategy field determines which
// other fields are relevant.
type ClassifierConfig struct {
	Strategy      string   `toml:"strategy"`       // "lines" (default) or "keywords"
	ModerateAt    int      `toml:"moderate_at"`    // changed-line threshold for moderate
	SignificantAt int      `toml:"significant_at"` // changed-line threshold for significant
	Keywords      []string `toml:"keywords"`       // only used when Strategy == "keywords"
}

// RetentionConfig holds per-category retention thresholds and the
// exclusion patterns ('!'-prefixed) honored by the cleanup pass.
type RetentionConfig struct {
	BaseDir            string   `toml:"base_dir"` // defaults to the main base_dir
	DatabaseBackupDays int      `toml:"database_backup_days"`
	LogBackupDays      int      `toml:"log_backup_days"`
	GeneralLogDays     int      `toml:"general_log_days"`
	Exclude            []string `toml:"exclude"`
	TimestampFormats   []string `toml:"timestamp_formats"` // explicit precedence order
}

// BackupConfig controls database backup snapshots.
type BackupConfig struct {
	Dir            string `toml:"dir"`     // defaults to <base_dir>/backups
	Encrypt        bool   `toml:"encrypt"` // age-encrypt snapshots
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config with the provided base directory and
// default derived paths.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Path: filepath.Join(baseDir, "kbwatch.db"),
		},
		Backup: BackupConfig{
			Dir:            filepath.Join(baseDir, "backups"),
			PublicKeyPath:  filepath.Join(baseDir, "keys", "kbwatch.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "kbwatch.key"),
		},
	}
}

// DatabasePath returns the configured store path, falling back to the
// default under the base directory.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.BaseDir, "kbwatch.db")
}

// BackupDir returns the configured snapshot directory, falling back to
// <base_dir>/backups.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.BaseDir, "backups")
}

// RetentionBaseDir returns the directory the cleanup pass walks.
func (c *Config) RetentionBaseDir() string {
	if c.Retention.BaseDir != "" {
		return c.Retention.BaseDir
	}
	return c.BaseDir
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
