package ledger

import (
	"time"

	"kbwatch/internal/model"
)

// Store is the persistence interface the ledger core depends on.
// Implemented by database.SQLiteStore.
type Store interface {
	// CreateVersion allocates the next version id for path (starting at
	// 1), hashes the content, and persists the row. Id allocation is
	// serialized per path; a concurrent collision is retried once and
	// surfaces as ErrWriteConflict only if the retry also fails.
	CreateVersion(path, content string, capturedAt time.Time) (*model.FileVersion, error)

	// LatestVersion returns the newest version for path, or nil if the
	// path has never been versioned.
	LatestVersion(path string) (*model.FileVersion, error)

	// GetVersion returns one specific version, or nil if absent.
	GetVersion(path string, versionID int64) (*model.FileVersion, error)

	// ListVersions returns all versions for path, newest first.
	ListVersions(path string) ([]*model.FileVersion, error)

	// SaveDiff persists a diff if the materialization guard passes.
	// Returns false (and no error) when the diff was suppressed.
	SaveDiff(diff *model.ContentDiff) (bool, error)

	// GetDiff returns the diff between two versions of path, or nil.
	GetDiff(path string, oldVersionID, newVersionID int64) (*model.ContentDiff, error)

	// ListDiffs returns all diffs for path, newest first.
	ListDiffs(path string) ([]*model.ContentDiff, error)

	// InsertSemanticEntry persists a classification entry. The impact
	// domain is enforced by a CHECK constraint; invalid values fail.
	InsertSemanticEntry(entry *model.SemanticEntry) error

	// SearchEntries returns entries whose searchable text contains the
	// query, newest first.
	SearchEntries(query string, limit int) ([]*model.SemanticEntry, error)

	// AppendMigrationLog appends one audit record for a migration
	// attempt. Entries are never updated or deleted.
	AppendMigrationLog(entry *model.MigrationLogEntry) error

	// ListMigrationLog returns migration audit records, newest first.
	ListMigrationLog(limit int) ([]*model.MigrationLogEntry, error)
}
