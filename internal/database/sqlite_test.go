package database_test

import (
	"database/sql"
	"testing"
	"time"

	"kbwatch/internal/ledger"
	"kbwatch/internal/model"
	"kbwatch/internal/testutil"
)

var capturedAt = time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)

func TestCreateVersion(t *testing.T) {
	store := testutil.NewTestStore(t)

	t.Run("ids start at 1 and increase per path", func(t *testing.T) {
		for i, content := range []string{"one\n", "two\n", "three\n"} {
			v, err := store.CreateVersion("/notes/a.md", content, capturedAt)
			if err != nil {
				t.Fatalf("CreateVersion() error = %v", err)
			}
			if v.VersionID != int64(i+1) {
				t.Errorf("VersionID = %d, want %d", v.VersionID, i+1)
			}
		}
	})

	t.Run("independent sequence per path", func(t *testing.T) {
		v, err := store.CreateVersion("/notes/b.md", "other\n", capturedAt)
		if err != nil {
			t.Fatalf("CreateVersion() error = %v", err)
		}
		if v.VersionID != 1 {
			t.Errorf("VersionID = %d, want 1", v.VersionID)
		}
	})

	t.Run("content hash is stored", func(t *testing.T) {
		v, err := store.CreateVersion("/notes/c.md", "hashed\n", capturedAt)
		if err != nil {
			t.Fatalf("CreateVersion() error = %v", err)
		}
		if v.ContentHash != ledger.ContentHash("hashed\n") {
			t.Errorf("ContentHash = %s, want %s", v.ContentHash, ledger.ContentHash("hashed\n"))
		}

		got, err := store.GetVersion("/notes/c.md", v.VersionID)
		if err != nil {
			t.Fatalf("GetVersion() error = %v", err)
		}
		if got.ContentHash != v.ContentHash {
			t.Errorf("persisted hash = %s, want %s", got.ContentHash, v.ContentHash)
		}
	})
}

func TestLatestVersion(t *testing.T) {
	store := testutil.NewTestStore(t)

	v, err := store.LatestVersion("/notes/missing.md")
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v != nil {
		t.Errorf("LatestVersion() = %+v, want nil", v)
	}

	store.CreateVersion("/notes/a.md", "one\n", capturedAt)
	store.CreateVersion("/notes/a.md", "two\n", capturedAt)

	v, err = store.LatestVersion("/notes/a.md")
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v.VersionID != 2 {
		t.Errorf("VersionID = %d, want 2", v.VersionID)
	}
	if v.Content != "two\n" {
		t.Errorf("Content = %q, want %q", v.Content, "two\n")
	}
}

func TestListVersionsNewestFirst(t *testing.T) {
	store := testutil.NewTestStore(t)

	store.CreateVersion("/notes/a.md", "one\n", capturedAt)
	store.CreateVersion("/notes/a.md", "two\n", capturedAt)
	store.CreateVersion("/notes/a.md", "three\n", capturedAt)

	versions, err := store.ListVersions("/notes/a.md")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("len(versions) = %d, want 3", len(versions))
	}
	for i, want := range []int64{3, 2, 1} {
		if versions[i].VersionID != want {
			t.Errorf("versions[%d].VersionID = %d, want %d", i, versions[i].VersionID, want)
		}
	}
}

func TestSaveDiffGuard(t *testing.T) {
	store := testutil.NewTestStore(t)

	store.CreateVersion("/notes/a.md", "one\n", capturedAt)
	store.CreateVersion("/notes/a.md", "two\n", capturedAt)

	base := model.ContentDiff{
		Path:         "/notes/a.md",
		OldVersionID: 1,
		NewVersionID: 2,
		ChangeType:   model.ChangeModified,
		DiffText:     "-one\n+two\n",
		LinesAdded:   1,
		LinesRemoved: 1,
		CreatedAt:    capturedAt,
	}

	t.Run("valid diff persists", func(t *testing.T) {
		d := base
		persisted, err := store.SaveDiff(&d)
		if err != nil {
			t.Fatalf("SaveDiff() error = %v", err)
		}
		if !persisted {
			t.Error("SaveDiff() = false, want true")
		}

		got, err := store.GetDiff("/notes/a.md", 1, 2)
		if err != nil {
			t.Fatalf("GetDiff() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetDiff() = nil, want the saved diff")
		}
		if got.ChangeType != model.ChangeModified {
			t.Errorf("ChangeType = %v, want %v", got.ChangeType, model.ChangeModified)
		}
	})

	t.Run("equal version ids suppressed", func(t *testing.T) {
		d := base
		d.OldVersionID, d.NewVersionID = 2, 2
		persisted, err := store.SaveDiff(&d)
		if err != nil {
			t.Fatalf("SaveDiff() error = %v", err)
		}
		if persisted {
			t.Error("SaveDiff() = true, want false")
		}
	})

	t.Run("zero line counts suppressed", func(t *testing.T) {
		d := base
		d.LinesAdded, d.LinesRemoved = 0, 0
		persisted, err := store.SaveDiff(&d)
		if err != nil {
			t.Fatalf("SaveDiff() error = %v", err)
		}
		if persisted {
			t.Error("SaveDiff() = true, want false")
		}
	})

	t.Run("identical version content suppressed", func(t *testing.T) {
		store.CreateVersion("/notes/b.md", "same\n", capturedAt)
		store.CreateVersion("/notes/b.md", "same\n", capturedAt)

		d := base
		d.Path = "/notes/b.md"
		persisted, err := store.SaveDiff(&d)
		if err != nil {
			t.Fatalf("SaveDiff() error = %v", err)
		}
		if persisted {
			t.Error("SaveDiff() = true, want false")
		}
	})
}

func TestInsertSemanticEntry(t *testing.T) {
	store := testutil.NewTestStore(t)
	store.CreateVersion("/notes/a.md", "content\n", capturedAt)

	entry := &model.SemanticEntry{
		ID:         "entry-1",
		VersionID:  1,
		Path:       "/notes/a.md",
		Timestamp:  capturedAt,
		Date:       "2025-03-10",
		Time:       "09:15:00",
		Type:       "created",
		Summary:    "Created a.md with 1 lines",
		Impact:     model.ImpactBrief,
		Searchable: "created a.md content",
		SourceType: "sweep",
		CreatedAt:  capturedAt,
	}

	t.Run("valid impact persists", func(t *testing.T) {
		if err := store.InsertSemanticEntry(entry); err != nil {
			t.Fatalf("InsertSemanticEntry() error = %v", err)
		}
	})

	t.Run("impact outside the domain is rejected", func(t *testing.T) {
		bad := *entry
		bad.ID = "entry-2"
		bad.Impact = model.Impact("minor")
		if err := store.InsertSemanticEntry(&bad); err == nil {
			t.Error("InsertSemanticEntry() accepted impact 'minor', want CHECK failure")
		}
	})

	t.Run("unknown version is rejected", func(t *testing.T) {
		bad := *entry
		bad.ID = "entry-3"
		bad.VersionID = 99
		if err := store.InsertSemanticEntry(&bad); err == nil {
			t.Error("InsertSemanticEntry() accepted dangling version reference")
		}
	})
}

func TestSemanticEntryCascade(t *testing.T) {
	store := testutil.NewTestStore(t)
	store.CreateVersion("/notes/a.md", "content\n", capturedAt)

	entry := &model.SemanticEntry{
		ID: "entry-1", VersionID: 1, Path: "/notes/a.md",
		Timestamp: capturedAt, Date: "2025-03-10", Time: "09:15:00",
		Type: "created", Summary: "s", Impact: model.ImpactBrief,
		Searchable: "cascade target", SourceType: "sweep", CreatedAt: capturedAt,
	}
	if err := store.InsertSemanticEntry(entry); err != nil {
		t.Fatalf("InsertSemanticEntry() error = %v", err)
	}

	// Purging the version removes its entries via the FK cascade.
	err := store.Exclusive(func(db *sql.DB) error {
		_, err := db.Exec("DELETE FROM file_versions WHERE path = ? AND version_id = ?", "/notes/a.md", 1)
		return err
	})
	if err != nil {
		t.Fatalf("deleting version: %v", err)
	}

	entries, err := store.EntriesForVersion("/notes/a.md", 1)
	if err != nil {
		t.Fatalf("EntriesForVersion() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d after cascade, want 0", len(entries))
	}
}

func TestSearchEntries(t *testing.T) {
	store := testutil.NewTestStore(t)
	store.CreateVersion("/notes/a.md", "content\n", capturedAt)
	store.CreateVersion("/notes/b.md", "content\n", capturedAt)

	insert := func(id, path, searchable string) {
		t.Helper()
		err := store.InsertSemanticEntry(&model.SemanticEntry{
			ID: id, VersionID: 1, Path: path,
			Timestamp: capturedAt, Date: "2025-03-10", Time: "09:15:00",
			Type: "created", Summary: "s", Impact: model.ImpactBrief,
			Searchable: searchable, SourceType: "sweep", CreatedAt: capturedAt,
		})
		if err != nil {
			t.Fatalf("InsertSemanticEntry(%s) error = %v", id, err)
		}
	}

	insert("e1", "/notes/a.md", "created a.md kubernetes deployment notes")
	insert("e2", "/notes/b.md", "created b.md grocery list")

	entries, err := store.SearchEntries("kubernetes", 10)
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].ID != "e1" {
		t.Errorf("ID = %s, want e1", entries[0].ID)
	}

	entries, err = store.SearchEntries("no such token", 10)
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestMigrationLog(t *testing.T) {
	store := testutil.NewTestStore(t)

	first := &model.MigrationLogEntry{
		Name: "semantic_impact_brief", Success: true,
		RecordsMigrated: 12, AppliedAt: capturedAt,
	}
	if err := store.AppendMigrationLog(first); err != nil {
		t.Fatalf("AppendMigrationLog() error = %v", err)
	}
	if first.ID == 0 {
		t.Error("appended entry did not receive an id")
	}

	second := &model.MigrationLogEntry{
		Name: "semantic_impact_brief", Success: false,
		ErrorMessage: "schema mismatch", AppliedAt: capturedAt.Add(time.Minute),
	}
	if err := store.AppendMigrationLog(second); err != nil {
		t.Fatalf("AppendMigrationLog() error = %v", err)
	}

	entries, err := store.ListMigrationLog(10)
	if err != nil {
		t.Fatalf("ListMigrationLog() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Success || entries[0].ErrorMessage != "schema mismatch" {
		t.Errorf("newest entry = %+v, want the failure record", entries[0])
	}
	if !entries[1].Success || entries[1].RecordsMigrated != 12 {
		t.Errorf("oldest entry = %+v, want the success record", entries[1])
	}
}

func TestVersionRowsAreImmutable(t *testing.T) {
	store := testutil.NewTestStore(t)

	v1, err := store.CreateVersion("/notes/a.md", "original\n", capturedAt)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if _, err := store.CreateVersion("/notes/a.md", "updated\n", capturedAt); err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}

	got, err := store.GetVersion("/notes/a.md", v1.VersionID)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if got.Content != "original\n" {
		t.Errorf("v1 content = %q, want %q", got.Content, "original\n")
	}
}
