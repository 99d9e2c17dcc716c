package ledger

import (
	"fmt"
	"time"

	"kbwatch/internal/model"
)

// Candidate is one change notification from a detector.
type Candidate struct {
	Path       string
	Content    string
	Type       model.ChangeType // ChangeDeleted is signaled by the detector; otherwise inferred
	Source     string           // "realtime" or "sweep"
	ObservedAt time.Time
}

// Status is the outcome of a candidate submission.
type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusSuppressed Status = "suppressed"
)

// Result describes what became of a submitted candidate.
type Result struct {
	Status    Status
	VersionID int64          // set when Status == StatusAccepted
	Reason    SuppressReason // set when Status == StatusSuppressed
}

// Service runs the accept path: version creation, diff computation, the
// materialization guard, and semantic classification — synchronously and
// in causal order for a given path. All mutation for one path flows
// through the Coordinator, which calls Record on its own goroutine.
type Service struct {
	store        Store
	classifier   *Classifier
	logger       Logger
	clock        Clock
	transformers []Transformer
}

// NewService creates a Service with the provided dependencies.
// Transformers are applied to candidate content in the given order
// before the no-op check and version creation.
func NewService(store Store, classifier *Classifier, logger Logger, clock Clock, transformers ...Transformer) *Service {
	return &Service{
		store:        store,
		classifier:   classifier,
		logger:       logger,
		clock:        clock,
		transformers: transformers,
	}
}

// Record processes one accepted candidate end to end. Exactly one
// FileVersion is created per call unless the candidate turns out to be a
// no-op; a ContentDiff and its SemanticEntry follow immediately whenever
// the materialization guard passes, so no version is left with a diff
// but no classification.
func (s *Service) Record(cand Candidate) (*Result, error) {
	latest, err := s.store.LatestVersion(cand.Path)
	if err != nil {
		return nil, fmt.Errorf("loading latest version: %w", err)
	}

	if cand.Type == model.ChangeDeleted {
		if latest == nil {
			s.logger.Debug("delete candidate for unversioned path, suppressing", "path", cand.Path)
			return &Result{Status: StatusSuppressed, Reason: ReasonNoPriorVersion}, nil
		}
		// A deletion is recorded as a version with empty content.
		cand.Content = ""
	} else {
		for _, tr := range s.transformers {
			cand.Content = tr.Transform(cand.Content)
		}
	}

	if latest != nil && latest.ContentHash == ContentHash(cand.Content) {
		s.logger.Debug("no-op candidate, suppressing",
			"path", cand.Path, "source", cand.Source, "version", latest.VersionID)
		return &Result{Status: StatusSuppressed, Reason: ReasonNoOp}, nil
	}

	capturedAt := cand.ObservedAt
	if capturedAt.IsZero() {
		capturedAt = s.clock.Now()
	}

	version, err := s.store.CreateVersion(cand.Path, cand.Content, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}

	changeType := model.ChangeModified
	switch {
	case cand.Type == model.ChangeDeleted:
		changeType = model.ChangeDeleted
	case latest == nil:
		changeType = model.ChangeCreated
	}

	var oldContent string
	var oldVersionID int64
	if latest != nil {
		oldContent = latest.Content
		oldVersionID = latest.VersionID
	}

	if err := s.recordDiff(version, changeType, oldVersionID, oldContent, cand.Source); err != nil {
		return nil, err
	}

	return &Result{Status: StatusAccepted, VersionID: version.VersionID}, nil
}

// recordDiff computes, persists, and classifies the diff for a freshly
// created version. Suppression by the materialization guard is a logged
// no-op, not an error.
func (s *Service) recordDiff(version *model.FileVersion, changeType model.ChangeType, oldVersionID int64, oldContent, source string) error {
	if !ShouldMaterialize(oldVersionID, version.VersionID, oldContent, version.Content) {
		s.logger.Debug("diff suppressed by materialization guard",
			"path", version.Path, "old", oldVersionID, "new", version.VersionID)
		return nil
	}

	res, err := ComputeDiff(oldContent, version.Content)
	if err != nil {
		return fmt.Errorf("computing diff: %w", err)
	}
	if res == nil {
		s.logger.Debug("empty diff suppressed", "path", version.Path, "new", version.VersionID)
		return nil
	}

	diff := &model.ContentDiff{
		Path:         version.Path,
		OldVersionID: oldVersionID,
		NewVersionID: version.VersionID,
		ChangeType:   changeType,
		DiffText:     res.Text,
		LinesAdded:   res.LinesAdded,
		LinesRemoved: res.LinesRemoved,
		CreatedAt:    s.clock.Now(),
	}

	persisted, err := s.store.SaveDiff(diff)
	if err != nil {
		return fmt.Errorf("saving diff: %w", err)
	}
	if !persisted {
		s.logger.Debug("diff suppressed by store guard",
			"path", version.Path, "old", oldVersionID, "new", version.VersionID)
		return nil
	}

	entry := s.classifier.Classify(diff, version, source)
	if err := s.store.InsertSemanticEntry(entry); err != nil {
		return fmt.Errorf("persisting semantic entry: %w", err)
	}

	s.logger.Info("change recorded",
		"path", version.Path, "version", version.VersionID,
		"type", changeType, "impact", entry.Impact,
		"added", diff.LinesAdded, "removed", diff.LinesRemoved)
	return nil
}

// LatestVersion returns the newest version for path, or nil.
func (s *Service) LatestVersion(path string) (*model.FileVersion, error) {
	return s.store.LatestVersion(path)
}

// History returns all versions for path, newest first.
func (s *Service) History(path string) ([]*model.FileVersion, error) {
	return s.store.ListVersions(path)
}

// GetDiff returns the persisted diff between two versions of path, or nil.
func (s *Service) GetDiff(path string, oldVersionID, newVersionID int64) (*model.ContentDiff, error) {
	return s.store.GetDiff(path, oldVersionID, newVersionID)
}

// ListDiffs returns all persisted diffs for path, newest first.
func (s *Service) ListDiffs(path string) ([]*model.ContentDiff, error) {
	return s.store.ListDiffs(path)
}

// Search returns semantic entries whose searchable text contains query.
func (s *Service) Search(query string, limit int) ([]*model.SemanticEntry, error) {
	return s.store.SearchEntries(query, limit)
}

// MigrationLog returns migration audit records, newest first.
func (s *Service) MigrationLog(limit int) ([]*model.MigrationLogEntry, error) {
	return s.store.ListMigrationLog(limit)
}
