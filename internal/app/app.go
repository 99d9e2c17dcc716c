// Package app is the application layer between the CLI and the ledger
// core. It constructs all dependencies from config, exposes high-level
// operations that accept raw string paths, and manages resource
// lifecycles on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kbwatch/internal/config"
	"kbwatch/internal/database"
	"kbwatch/internal/encryption"
	"kbwatch/internal/ledger"
	"kbwatch/internal/migrator"
	"kbwatch/internal/model"
	"kbwatch/internal/retention"
	"kbwatch/internal/watcher"
)

// App wires the store, ledger core, detectors, and maintenance
// components together for one CLI invocation.
type App struct {
	cfg         *config.Config
	store       *database.SQLiteStore
	service     *ledger.Service
	coordinator *ledger.Coordinator
	realtime    *watcher.Realtime
	sweep       *watcher.Sweep
	logger      ledger.Logger
	clock       ledger.Clock
	logFile     *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Watch", "Cleanup").
// Startup applies pending baseline migrations and the impact-domain
// migration; failure of either is fatal and leaves the store untouched.
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string, verbose bool) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	logger.Info("starting", "operation", operation)

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := database.NewSQLiteStore(dbPath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	clock := ledger.RealClock{}

	if err := store.MigrateUp(); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("applying baseline migrations: %w", err)
	}
	if err := migrator.New(store, logger, clock).Apply(); err != nil {
		store.Close()
		logFile.Close()
		return nil, err
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("store schema out of date: %w", err)
	}

	classifier := ledger.NewClassifier(impactStrategy(cfg.Classifier), clock, ledger.UUIDGenerator{})

	var transformers []ledger.Transformer
	for _, name := range cfg.Watch.Transforms {
		tr := ledger.TransformerByName(name)
		if tr == nil {
			store.Close()
			logFile.Close()
			return nil, fmt.Errorf("unknown content transform %q", name)
		}
		transformers = append(transformers, tr)
	}

	service := ledger.NewService(store, classifier, logger, clock, transformers...)
	coordinator := ledger.NewCoordinator(
		service,
		cfg.Watch.Debounce(ledger.DefaultDebounce),
		cfg.Watch.QueueSize,
		logger,
		clock,
	)

	return &App{
		cfg:         cfg,
		store:       store,
		service:     service,
		coordinator: coordinator,
		realtime:    watcher.NewRealtime(cfg.Watch.Paths, coordinator, logger, clock),
		sweep:       watcher.NewSweep(cfg.Watch.Paths, cfg.Watch.SweepInterval(), coordinator, logger, clock),
		logger:      logger,
		clock:       clock,
		logFile:     logFile,
	}, nil
}

// impactStrategy builds the configured impact strategy; "lines" is the
// default.
func impactStrategy(cfg config.ClassifierConfig) ledger.ImpactStrategy {
	lines := ledger.NewLineCountStrategy()
	if cfg.ModerateAt > 0 {
		lines.ModerateAt = cfg.ModerateAt
	}
	if cfg.SignificantAt > 0 {
		lines.SignificantAt = cfg.SignificantAt
	}

	if cfg.Strategy == "keywords" {
		return &ledger.KeywordStrategy{Base: lines, Keywords: cfg.Keywords}
	}
	return lines
}

// Watch runs the monitor until ctx is cancelled: both detectors feed
// the coordinator, which owns all per-path state. Shutdown drains
// in-flight version creations before returning.
func (a *App) Watch(ctx context.Context) error {
	if len(a.cfg.Watch.Paths) == 0 {
		return fmt.Errorf("no watch paths configured")
	}

	a.coordinator.Start()
	if err := a.realtime.Start(); err != nil {
		a.coordinator.Stop()
		return fmt.Errorf("starting realtime detector: %w", err)
	}
	a.sweep.Start()

	<-ctx.Done()

	// Detectors first so no new candidates arrive, then the coordinator
	// so pending debounce windows flush with their classifications.
	a.realtime.Stop()
	a.sweep.Stop()
	a.coordinator.Stop()
	a.logger.Info("monitor stopped")
	return nil
}

// SubmitOnce reads the file at rawPath and runs one candidate through
// the full accept path, returning the outcome.
func (a *App) SubmitOnce(ctx context.Context, rawPath string) (*ledger.Result, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrContentUnavailable, err)
	}

	a.coordinator.Start()
	res, err := a.coordinator.SubmitWait(ctx, ledger.Candidate{
		Path:       absPath,
		Content:    string(content),
		Source:     "manual",
		ObservedAt: a.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// History returns all versions of the file at rawPath, newest first.
func (a *App) History(rawPath string) ([]*model.FileVersion, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.History(absPath)
}

// ShowDiff returns the diff between two versions of the file at rawPath.
// With oldID == 0 and newID == 0 it returns the most recent diff.
func (a *App) ShowDiff(rawPath string, oldID, newID int64) (*model.ContentDiff, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	if oldID == 0 && newID == 0 {
		diffs, err := a.service.ListDiffs(absPath)
		if err != nil {
			return nil, err
		}
		if len(diffs) == 0 {
			return nil, nil
		}
		return diffs[0], nil
	}

	return a.service.GetDiff(absPath, oldID, newID)
}

// Search returns semantic entries matching the query.
func (a *App) Search(query string, limit int) ([]*model.SemanticEntry, error) {
	return a.service.Search(query, limit)
}

// MigrationLog returns migration audit records, newest first.
func (a *App) MigrationLog(limit int) ([]*model.MigrationLogEntry, error) {
	return a.service.MigrationLog(limit)
}

// Cleanup applies retention thresholds to backup/log artifacts.
func (a *App) Cleanup(dryRun bool) (*retention.Report, error) {
	mgr := retention.NewManager(retention.Config{
		BaseDir: a.cfg.RetentionBaseDir(),
		RetentionDays: map[retention.Category]int{
			retention.CategoryDatabaseBackups: a.cfg.Retention.DatabaseBackupDays,
			retention.CategoryLogBackups:      a.cfg.Retention.LogBackupDays,
			retention.CategoryGeneralLogs:     a.cfg.Retention.GeneralLogDays,
		},
		Exclude:          a.cfg.Retention.Exclude,
		TimestampFormats: a.cfg.Retention.TimestampFormats,
	}, a.logger, a.clock)

	return mgr.Cleanup(dryRun)
}

// Backup snapshots the database into the backup directory using VACUUM
// INTO, optionally age-encrypting the result. Returns the snapshot path.
func (a *App) Backup() (string, error) {
	backupDir := a.cfg.BackupDir()
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	stamp := a.clock.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("kbwatch_db_backup_%s.db", stamp)
	dest := filepath.Join(backupDir, name)

	enc, err := encryption.NewFromConfig(a.cfg.Backup)
	if err != nil {
		return "", err
	}

	if !a.cfg.Backup.Encrypt {
		if err := a.store.BackupTo(dest); err != nil {
			return "", err
		}
		a.logger.Info("database backed up", "path", dest)
		return dest, nil
	}

	tmp, err := os.CreateTemp(backupDir, "kbwatch-snapshot-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // VACUUM INTO refuses to overwrite
	defer os.Remove(tmpPath)

	if err := a.store.BackupTo(tmpPath); err != nil {
		return "", err
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("opening snapshot: %w", err)
	}
	defer src.Close()

	dest += ".age"
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	defer out.Close()

	if err := enc.Encrypt(src, out); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("encrypting snapshot: %w", err)
	}

	a.logger.Info("database backed up", "path", dest, "encrypted", true)
	return dest, nil
}

// Close releases all resources. Safe to call once per App.
func (a *App) Close() error {
	var firstErr error

	a.coordinator.Stop()

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
