// Package retention bounds storage growth of on-disk backup and log
// artifacts. It never touches the version/diff ledger itself, and no
// error here may block ledger writes: everything is absorbed into the
// cleanup report.
package retention

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kbwatch/internal/ledger"
)

// Category classifies an on-disk artifact for retention purposes.
type Category string

const (
	CategoryDatabaseBackups Category = "database_backups"
	CategoryLogBackups      Category = "log_backups"
	CategoryGeneralLogs     Category = "general_logs"
)

// DefaultRetentionDays holds the per-category age cutoffs.
var DefaultRetentionDays = map[Category]int{
	CategoryDatabaseBackups: 7,
	CategoryLogBackups:      3,
	CategoryGeneralLogs:     14,
}

// categoryPatterns maps filename patterns to categories. Order matters:
// the first matching category wins, so the more specific backup
// patterns come before the catch-all log pattern.
var categoryPatterns = []struct {
	category Category
	patterns []string
}{
	{CategoryDatabaseBackups, []string{"*_db_backup_*", "*.db.bak", "*.db.age"}},
	{CategoryLogBackups, []string{"*_log_backup_*", "*.log.gz", "*.log.bak"}},
	{CategoryGeneralLogs, []string{"*.log"}},
}

// Categorize returns the retention category for an artifact basename.
// Uncategorizable artifacts are never deleted.
func Categorize(name string) (Category, bool) {
	for _, cp := range categoryPatterns {
		for _, pattern := range cp.patterns {
			if ok, err := filepath.Match(pattern, name); err == nil && ok {
				return cp.category, true
			}
		}
	}
	return "", false
}

// Config configures a retention Manager.
type Config struct {
	// BaseDir is the directory walked for artifacts.
	BaseDir string

	// RetentionDays overrides DefaultRetentionDays per category.
	RetentionDays map[Category]int

	// Exclude holds exclusion patterns. The configuration syntax
	// prefixes them with '!'; the prefix is accepted and stripped here.
	// Matching artifacts are excluded from their category and therefore
	// never deleted.
	Exclude []string

	// TimestampFormats overrides the precedence-ordered format list
	// used to parse filename-embedded timestamps.
	TimestampFormats []string
}

// Report is the outcome of one cleanup pass.
type Report struct {
	Deleted []string
	Kept    int
	Errors  []error
}

// Manager applies per-category age cutoffs to backup/log artifacts.
type Manager struct {
	cfg     Config
	exclude []string
	logger  ledger.Logger
	clock   ledger.Clock
}

// NewManager creates a retention Manager.
func NewManager(cfg Config, logger ledger.Logger, clock ledger.Clock) *Manager {
	exclude := make([]string, 0, len(cfg.Exclude))
	for _, p := range cfg.Exclude {
		p = strings.TrimSpace(strings.TrimPrefix(p, "!"))
		if p != "" {
			exclude = append(exclude, p)
		}
	}
	return &Manager{cfg: cfg, exclude: exclude, logger: logger, clock: clock}
}

// Cleanup walks the base directory and deletes (or, in dry-run mode,
// only reports) artifacts older than their category's cutoff. Artifacts
// it cannot categorize are kept; per-file failures are collected into
// the report and never abort the pass.
func (m *Manager) Cleanup(dryRun bool) (*Report, error) {
	report := &Report{}
	now := m.clock.Now()

	err := filepath.WalkDir(m.cfg.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("walking %s: %w", path, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		m.inspect(path, d, now, dryRun, report)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking base directory: %w", err)
	}

	m.logger.Info("retention cleanup finished",
		"dry_run", dryRun, "deleted", len(report.Deleted),
		"kept", report.Kept, "errors", len(report.Errors))
	return report, nil
}

func (m *Manager) inspect(path string, d fs.DirEntry, now time.Time, dryRun bool, report *Report) {
	name := d.Name()

	if m.excluded(name) {
		report.Kept++
		return
	}

	category, ok := Categorize(name)
	if !ok {
		report.Kept++
		return
	}

	info, err := d.Info()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("stat %s: %w", path, err))
		return
	}

	createdAt := m.deriveTimestamp(name, info)
	cutoff := now.AddDate(0, 0, -m.retentionDays(category))
	if !createdAt.Before(cutoff) {
		report.Kept++
		return
	}

	if dryRun {
		m.logger.Info("would delete artifact",
			"path", path, "category", category, "age_days", int(now.Sub(createdAt).Hours()/24))
		report.Deleted = append(report.Deleted, path)
		return
	}

	if err := os.Remove(path); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("deleting %s: %w", path, err))
		return
	}
	m.logger.Info("deleted artifact", "path", path, "category", category)
	report.Deleted = append(report.Deleted, path)
}

// deriveTimestamp prefers a filename-embedded timestamp and falls back
// to the file's modification time when no format matches.
func (m *Manager) deriveTimestamp(name string, info fs.FileInfo) time.Time {
	ts, err := ParseArtifactTimestamp(name, m.cfg.TimestampFormats)
	if err != nil {
		m.logger.Debug("no timestamp in artifact name, using mtime", "name", name)
		return info.ModTime()
	}
	return ts
}

func (m *Manager) retentionDays(category Category) int {
	if days, ok := m.cfg.RetentionDays[category]; ok && days > 0 {
		return days
	}
	return DefaultRetentionDays[category]
}

func (m *Manager) excluded(name string) bool {
	for _, pattern := range m.exclude {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
