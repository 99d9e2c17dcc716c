package model

import "time"

// ChangeType describes how a watched file changed between two versions.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Impact is the three-level severity classification of a change.
// The database enforces this domain with a CHECK constraint; any other
// value is rejected on insert.
type Impact string

const (
	ImpactBrief       Impact = "brief"
	ImpactModerate    Impact = "moderate"
	ImpactSignificant Impact = "significant"
)

// Valid reports whether i is one of the three allowed impact levels.
func (i Impact) Valid() bool {
	switch i {
	case ImpactBrief, ImpactModerate, ImpactSignificant:
		return true
	}
	return false
}

// FileVersion is one immutable snapshot of a watched file's content.
// VersionID is monotonic per path, starting at 1. Rows are never updated;
// deletion only happens through explicit administrative purge.
type FileVersion struct {
	VersionID   int64  // per-path, strictly increasing
	Path        string // absolute path of the watched file
	ContentHash string // SHA-256 hex digest of Content
	Content     string
	CapturedAt  time.Time
}

// ContentDiff is the delta between two FileVersions of the same path.
// A ContentDiff exists only if OldVersionID != NewVersionID and the two
// versions' content differ; the store rejects anything else.
type ContentDiff struct {
	Path         string
	OldVersionID int64
	NewVersionID int64
	ChangeType   ChangeType
	DiffText     string // unified diff
	LinesAdded   int
	LinesRemoved int
	CreatedAt    time.Time
}

// SemanticEntry is the human/AI-facing record describing the meaning of
// a change. One entry per materialized ContentDiff; removed only via
// cascade when its FileVersion is removed.
type SemanticEntry struct {
	ID           string // UUID
	VersionID    int64
	Path         string
	Timestamp    time.Time
	Date         string // YYYY-MM-DD, derived from Timestamp
	Time         string // HH:MM:SS, derived from Timestamp
	Type         string // mirrors the diff's change type
	Summary      string
	Impact       Impact
	Searchable   string // summary + path + key diff tokens
	DocumentPath string // optional backing document
	SourceType   string // detector source that produced the change
	CreatedAt    time.Time
}

// MigrationLogEntry is an append-only audit record. One entry is written
// per migration attempt, success or failure; entries are never updated
// or deleted.
type MigrationLogEntry struct {
	ID              int64
	Name            string
	Success         bool
	RecordsMigrated int64
	ErrorMessage    string
	AppliedAt       time.Time
}
