// Package migrator performs the backup-then-transform-then-restore
// schema upgrade that normalizes the semantic entry impact domain:
// the deprecated value "minor" becomes "brief" and the table's CHECK
// constraint is rebuilt around {brief, moderate, significant}.
//
// The migration is idempotent and atomic: applicability is detected via
// an explicit schema_metadata marker row (with a DDL-text fallback for
// legacy stores that predate the marker), all mutation happens inside
// one transaction, and any failure rolls back leaving the live table
// untouched. Every attempt, success or failure, appends one
// MigrationLogEntry. Rollback of a committed migration is unsupported;
// recovery requires an external backup.
package migrator

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kbwatch/internal/ledger"
	"kbwatch/internal/model"
)

// MigrationName identifies this migration in the audit log.
const MigrationName = "semantic_impact_brief"

// impactDomainKey/impactDomainTarget are the schema_metadata marker.
const (
	impactDomainKey    = "impact_domain"
	impactDomainTarget = "v2"
)

const backupTable = "semantic_entries_migration_backup"

// rebuildDDL recreates semantic_entries with the updated impact CHECK
// and the identical column set. Must stay in sync with the baseline
// migration's column order: the restore is a positional INSERT ... SELECT.
const rebuildDDL = `
CREATE TABLE semantic_entries (
    id            TEXT PRIMARY KEY,
    version_id    INTEGER NOT NULL,
    path          TEXT NOT NULL,
    timestamp     TIMESTAMP NOT NULL,
    date          TEXT NOT NULL,
    time          TEXT NOT NULL,
    type          TEXT NOT NULL,
    summary       TEXT NOT NULL,
    impact        TEXT NOT NULL CHECK (impact IN ('brief', 'moderate', 'significant')),
    searchable    TEXT NOT NULL,
    document_path TEXT,
    source_type   TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    FOREIGN KEY (path, version_id) REFERENCES file_versions (path, version_id) ON DELETE CASCADE
)`

var rebuildIndexes = []string{
	"CREATE INDEX idx_semantic_entries_path ON semantic_entries (path)",
	"CREATE INDEX idx_semantic_entries_date ON semantic_entries (date)",
	"CREATE INDEX idx_semantic_entries_impact ON semantic_entries (impact)",
}

// migrationLogDDL lets the migrator log against legacy stores that
// predate the migration_log table.
const migrationLogDDL = `
CREATE TABLE IF NOT EXISTS migration_log (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL,
    success          INTEGER NOT NULL,
    records_migrated INTEGER NOT NULL DEFAULT 0,
    error_message    TEXT NOT NULL DEFAULT '',
    applied_at       TIMESTAMP NOT NULL
)`

const metadataDDL = `
CREATE TABLE IF NOT EXISTS schema_metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

// Store is the slice of the version store the migrator needs: exclusive
// access to the underlying connection, and the audit log.
type Store interface {
	Exclusive(fn func(db *sql.DB) error) error
	AppendMigrationLog(entry *model.MigrationLogEntry) error
}

// Migrator applies the impact-domain migration against one store.
type Migrator struct {
	store  Store
	logger ledger.Logger
	clock  ledger.Clock
}

// New creates a Migrator.
func New(store Store, logger ledger.Logger, clock ledger.Clock) *Migrator {
	return &Migrator{store: store, logger: logger, clock: clock}
}

// Apply runs the migration exactly once. Safe to call repeatedly: once
// the marker reflects the target domain (or the table does not exist
// yet) it returns success immediately without touching anything and
// without logging a new attempt. Ledger writes are excluded for the
// whole duration via the store's exclusive lock.
func (m *Migrator) Apply() error {
	var migrated int64
	var attempted bool

	err := m.store.Exclusive(func(db *sql.DB) error {
		needed, err := m.needsMigration(db)
		if err != nil {
			return err
		}
		if !needed {
			m.logger.Debug("impact domain already migrated, nothing to do")
			return nil
		}

		if _, err := db.Exec(migrationLogDDL); err != nil {
			return fmt.Errorf("ensuring migration log table: %w", err)
		}

		attempted = true
		migrated, err = m.run(db)
		return err
	})

	if err != nil {
		m.logger.Error("impact domain migration failed", "error", err)
		logErr := m.store.AppendMigrationLog(&model.MigrationLogEntry{
			Name:         MigrationName,
			Success:      false,
			ErrorMessage: err.Error(),
			AppliedAt:    m.clock.Now(),
		})
		if logErr != nil {
			m.logger.Error("appending migration failure record", "error", logErr)
		}
		return fmt.Errorf("applying %s: %w", MigrationName, err)
	}

	if !attempted {
		return nil
	}

	m.logger.Info("impact domain migration applied", "records_migrated", migrated)
	return m.store.AppendMigrationLog(&model.MigrationLogEntry{
		Name:            MigrationName,
		Success:         true,
		RecordsMigrated: migrated,
		AppliedAt:       m.clock.Now(),
	})
}

// needsMigration decides applicability. The schema_metadata marker is
// authoritative when present; stores that predate it fall back to
// inspecting the live table definition for the deprecated value.
func (m *Migrator) needsMigration(db *sql.DB) (bool, error) {
	ddl, err := tableDDL(db, "semantic_entries")
	if err != nil {
		return false, err
	}
	if ddl == "" {
		// Table doesn't exist yet; the baseline migration will create it
		// with the target constraint.
		return false, nil
	}

	hasMeta, err := tableExists(db, "schema_metadata")
	if err != nil {
		return false, err
	}
	if hasMeta {
		var val string
		err := db.QueryRow(
			"SELECT value FROM schema_metadata WHERE key = ?", impactDomainKey,
		).Scan(&val)
		if err == nil {
			return val != impactDomainTarget, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("reading schema marker: %w", err)
		}
	}

	return strings.Contains(ddl, "'minor'"), nil
}

// run executes backup, transform, rebuild, restore, and finalize inside
// one transaction. Returns the number of rows whose impact was rewritten.
func (m *Migrator) run(db *sql.DB) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting migration transaction: %w", err)
	}
	defer tx.Rollback()

	// Backup: copy all rows into the holding table.
	if _, err := tx.Exec("CREATE TABLE " + backupTable + " AS SELECT * FROM semantic_entries"); err != nil {
		return 0, fmt.Errorf("backing up semantic entries: %w", err)
	}
	var backupCount int64
	if err := tx.QueryRow("SELECT COUNT(*) FROM " + backupTable).Scan(&backupCount); err != nil {
		return 0, fmt.Errorf("counting backup rows: %w", err)
	}

	// Transform: rewrite the deprecated value inside the holding table.
	res, err := tx.Exec("UPDATE " + backupTable + " SET impact = 'brief' WHERE impact = 'minor'")
	if err != nil {
		return 0, fmt.Errorf("rewriting deprecated impact values: %w", err)
	}
	migrated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting rewritten rows: %w", err)
	}

	// Rebuild: drop the live table and recreate it with the updated
	// constraint and all secondary indexes.
	if _, err := tx.Exec("DROP TABLE semantic_entries"); err != nil {
		return 0, fmt.Errorf("dropping live table: %w", err)
	}
	if _, err := tx.Exec(rebuildDDL); err != nil {
		return 0, fmt.Errorf("recreating semantic entries table: %w", err)
	}
	for _, idx := range rebuildIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return 0, fmt.Errorf("recreating index: %w", err)
		}
	}

	// Restore: copy rows back and verify the count matches the backup.
	if _, err := tx.Exec("INSERT INTO semantic_entries SELECT * FROM " + backupTable); err != nil {
		return 0, fmt.Errorf("restoring semantic entries: %w", err)
	}
	var restored int64
	if err := tx.QueryRow("SELECT COUNT(*) FROM semantic_entries").Scan(&restored); err != nil {
		return 0, fmt.Errorf("counting restored rows: %w", err)
	}
	if restored != backupCount {
		return 0, fmt.Errorf("restored %d rows but backed up %d: %w",
			restored, backupCount, ledger.ErrSchemaMismatch)
	}

	// Finalize: drop the holding table, set the marker, commit.
	if _, err := tx.Exec("DROP TABLE " + backupTable); err != nil {
		return 0, fmt.Errorf("dropping holding table: %w", err)
	}
	if _, err := tx.Exec(metadataDDL); err != nil {
		return 0, fmt.Errorf("ensuring schema metadata table: %w", err)
	}
	_, err = tx.Exec(
		"INSERT INTO schema_metadata (key, value) VALUES (?, ?) "+
			"ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		impactDomainKey, impactDomainTarget)
	if err != nil {
		return 0, fmt.Errorf("setting schema marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing migration: %w", err)
	}
	return migrated, nil
}

func tableDDL(db *sql.DB, name string) (string, error) {
	var ddl sql.NullString
	err := db.QueryRow(
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading table definition for %s: %w", name, err)
	}
	return ddl.String, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var n string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking for table %s: %w", name, err)
	}
	return true, nil
}
