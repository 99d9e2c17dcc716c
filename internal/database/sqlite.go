package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"kbwatch/internal/database/migrations"
	"kbwatch/internal/ledger"
	"kbwatch/internal/model"
)

// SQLiteStore implements the ledger.Store interface using SQLite.
//
// Ledger writes hold the store's shared lock; maintenance operations
// (schema migration) take the exclusive lock via Exclusive, so no
// version or diff write can interleave with a migration transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewSQLiteStore opens a SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store depends on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys drive the SemanticEntry cascade; SQLite defaults them off.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// CreateVersion allocates the next version id for path inside a
// transaction and persists the snapshot. The UNIQUE(path, version_id)
// primary key backstops the allocation: if a concurrent writer takes
// the id first, the insert is retried once with a fresh allocation.
func (s *SQLiteStore) CreateVersion(path, content string, capturedAt time.Time) (*model.FileVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.createVersionOnce(path, content, capturedAt)
	if err == nil {
		return v, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}

	v, err = s.createVersionOnce(path, content, capturedAt)
	if err == nil {
		return v, nil
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("allocating version id for %s: %w", path, ledger.ErrWriteConflict)
	}
	return nil, err
}

func (s *SQLiteStore) createVersionOnce(path, content string, capturedAt time.Time) (*model.FileVersion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var maxID int64
	err = tx.QueryRow(
		"SELECT COALESCE(MAX(version_id), 0) FROM file_versions WHERE path = ?", path,
	).Scan(&maxID)
	if err != nil {
		return nil, fmt.Errorf("reading max version id: %w", err)
	}

	v := &model.FileVersion{
		VersionID:   maxID + 1,
		Path:        path,
		ContentHash: ledger.ContentHash(content),
		Content:     content,
		CapturedAt:  capturedAt,
	}

	_, err = tx.Exec(
		`INSERT INTO file_versions (path, version_id, content_hash, content, captured_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.Path, v.VersionID, v.ContentHash, v.Content, v.CapturedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}
	return v, nil
}

// LatestVersion returns the newest version for path, or nil.
func (s *SQLiteStore) LatestVersion(path string) (*model.FileVersion, error) {
	row := s.db.QueryRow(
		`SELECT path, version_id, content_hash, content, captured_at
		 FROM file_versions WHERE path = ? ORDER BY version_id DESC LIMIT 1`, path)
	return scanVersion(row)
}

// GetVersion returns one specific version of path, or nil.
func (s *SQLiteStore) GetVersion(path string, versionID int64) (*model.FileVersion, error) {
	row := s.db.QueryRow(
		`SELECT path, version_id, content_hash, content, captured_at
		 FROM file_versions WHERE path = ? AND version_id = ?`, path, versionID)
	return scanVersion(row)
}

// ListVersions returns all versions for path, newest first.
func (s *SQLiteStore) ListVersions(path string) ([]*model.FileVersion, error) {
	rows, err := s.db.Query(
		`SELECT path, version_id, content_hash, content, captured_at
		 FROM file_versions WHERE path = ? ORDER BY version_id DESC`, path)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []*model.FileVersion
	for rows.Next() {
		var v model.FileVersion
		if err := rows.Scan(&v.Path, &v.VersionID, &v.ContentHash, &v.Content, &v.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// SaveDiff persists a diff only when the materialization guard passes.
// The guard is re-checked here so no caller, present or future, can
// persist a diff between identical versions or a +0/-0 diff.
func (s *SQLiteStore) SaveDiff(diff *model.ContentDiff) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if diff.OldVersionID == diff.NewVersionID {
		return false, nil
	}
	if diff.LinesAdded == 0 && diff.LinesRemoved == 0 {
		return false, nil
	}
	if diff.OldVersionID != 0 {
		identical, err := s.versionsIdentical(diff.Path, diff.OldVersionID, diff.NewVersionID)
		if err != nil {
			return false, err
		}
		if identical {
			return false, nil
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO content_diffs
		 (path, old_version_id, new_version_id, change_type, diff_text, lines_added, lines_removed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		diff.Path, diff.OldVersionID, diff.NewVersionID, string(diff.ChangeType),
		diff.DiffText, diff.LinesAdded, diff.LinesRemoved, diff.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting diff: %w", err)
	}
	return true, nil
}

// versionsIdentical reports whether two versions of path carry the same
// content hash.
func (s *SQLiteStore) versionsIdentical(path string, oldID, newID int64) (bool, error) {
	var oldHash, newHash string
	err := s.db.QueryRow(
		"SELECT content_hash FROM file_versions WHERE path = ? AND version_id = ?", path, oldID,
	).Scan(&oldHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading old version hash: %w", err)
	}

	err = s.db.QueryRow(
		"SELECT content_hash FROM file_versions WHERE path = ? AND version_id = ?", path, newID,
	).Scan(&newHash)
	if err != nil {
		return false, fmt.Errorf("reading new version hash: %w", err)
	}

	return oldHash == newHash, nil
}

// GetDiff returns the diff between two versions of path, or nil.
func (s *SQLiteStore) GetDiff(path string, oldVersionID, newVersionID int64) (*model.ContentDiff, error) {
	row := s.db.QueryRow(
		`SELECT path, old_version_id, new_version_id, change_type, diff_text, lines_added, lines_removed, created_at
		 FROM content_diffs WHERE path = ? AND old_version_id = ? AND new_version_id = ?`,
		path, oldVersionID, newVersionID)
	return scanDiff(row)
}

// ListDiffs returns all diffs for path, newest first.
func (s *SQLiteStore) ListDiffs(path string) ([]*model.ContentDiff, error) {
	rows, err := s.db.Query(
		`SELECT path, old_version_id, new_version_id, change_type, diff_text, lines_added, lines_removed, created_at
		 FROM content_diffs WHERE path = ? ORDER BY new_version_id DESC`, path)
	if err != nil {
		return nil, fmt.Errorf("listing diffs: %w", err)
	}
	defer rows.Close()

	var diffs []*model.ContentDiff
	for rows.Next() {
		var d model.ContentDiff
		var changeType string
		err := rows.Scan(&d.Path, &d.OldVersionID, &d.NewVersionID, &changeType,
			&d.DiffText, &d.LinesAdded, &d.LinesRemoved, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning diff: %w", err)
		}
		d.ChangeType = model.ChangeType(changeType)
		diffs = append(diffs, &d)
	}
	return diffs, rows.Err()
}

// InsertSemanticEntry persists a classification entry. The impact CHECK
// constraint rejects any value outside {brief, moderate, significant}.
func (s *SQLiteStore) InsertSemanticEntry(entry *model.SemanticEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.db.Exec(
		`INSERT INTO semantic_entries
		 (id, version_id, path, timestamp, date, time, type, summary, impact, searchable, document_path, source_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.VersionID, entry.Path, entry.Timestamp,
		entry.Date, entry.Time, entry.Type, entry.Summary,
		string(entry.Impact), entry.Searchable, entry.DocumentPath,
		entry.SourceType, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting semantic entry: %w", err)
	}
	return nil
}

// SearchEntries returns entries whose searchable text contains query.
func (s *SQLiteStore) SearchEntries(query string, limit int) ([]*model.SemanticEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, version_id, path, timestamp, date, time, type, summary, impact, searchable, document_path, source_type, created_at
		 FROM semantic_entries WHERE searchable LIKE '%' || ? || '%'
		 ORDER BY created_at DESC LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.SemanticEntry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntriesForVersion returns the entries referencing one version of path.
func (s *SQLiteStore) EntriesForVersion(path string, versionID int64) ([]*model.SemanticEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, version_id, path, timestamp, date, time, type, summary, impact, searchable, document_path, source_type, created_at
		 FROM semantic_entries WHERE path = ? AND version_id = ?`, path, versionID)
	if err != nil {
		return nil, fmt.Errorf("loading entries for version: %w", err)
	}
	defer rows.Close()

	var entries []*model.SemanticEntry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendMigrationLog appends one audit record for a migration attempt.
func (s *SQLiteStore) AppendMigrationLog(entry *model.MigrationLogEntry) error {
	res, err := s.db.Exec(
		`INSERT INTO migration_log (name, success, records_migrated, error_message, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Name, entry.Success, entry.RecordsMigrated, entry.ErrorMessage, entry.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("appending migration log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListMigrationLog returns migration audit records, newest first.
func (s *SQLiteStore) ListMigrationLog(limit int) ([]*model.MigrationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, name, success, records_migrated, error_message, applied_at
		 FROM migration_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing migration log: %w", err)
	}
	defer rows.Close()

	var entries []*model.MigrationLogEntry
	for rows.Next() {
		var e model.MigrationLogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Success, &e.RecordsMigrated, &e.ErrorMessage, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration log entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Exclusive runs fn while holding the store's exclusive lock, blocking
// all ledger writes for the duration. The schema migrator runs under it.
func (s *SQLiteStore) Exclusive(fn func(db *sql.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.db)
}

// Path returns the database file path (or "" for wrapped connections).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the baseline schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// MigrateUp applies all pending baseline migrations.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.Up(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanVersion(row *sql.Row) (*model.FileVersion, error) {
	var v model.FileVersion
	err := row.Scan(&v.Path, &v.VersionID, &v.ContentHash, &v.Content, &v.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	return &v, nil
}

func scanDiff(row *sql.Row) (*model.ContentDiff, error) {
	var d model.ContentDiff
	var changeType string
	err := row.Scan(&d.Path, &d.OldVersionID, &d.NewVersionID, &changeType,
		&d.DiffText, &d.LinesAdded, &d.LinesRemoved, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning diff: %w", err)
	}
	d.ChangeType = model.ChangeType(changeType)
	return &d, nil
}

func scanEntryRow(rows *sql.Rows) (*model.SemanticEntry, error) {
	var e model.SemanticEntry
	var impact string
	var docPath sql.NullString
	err := rows.Scan(&e.ID, &e.VersionID, &e.Path, &e.Timestamp, &e.Date, &e.Time,
		&e.Type, &e.Summary, &impact, &e.Searchable, &docPath, &e.SourceType, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning semantic entry: %w", err)
	}
	e.Impact = model.Impact(impact)
	e.DocumentPath = docPath.String
	return &e, nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure from the SQLite driver.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Compile-time check that SQLiteStore implements the ledger.Store interface.
var _ ledger.Store = (*SQLiteStore)(nil)
