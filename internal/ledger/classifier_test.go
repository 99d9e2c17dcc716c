package ledger

import (
	"strings"
	"testing"
	"time"

	"kbwatch/internal/model"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubIDGen struct{ id string }

func (g stubIDGen) New() string { return g.id }

func TestLineCountStrategy(t *testing.T) {
	s := NewLineCountStrategy()

	tests := []struct {
		name    string
		added   int
		removed int
		want    model.Impact
	}{
		{"tiny change", 1, 0, model.ImpactBrief},
		{"just below moderate", 2, 2, model.ImpactBrief},
		{"at moderate threshold", 3, 2, model.ImpactModerate},
		{"just below significant", 20, 4, model.ImpactModerate},
		{"at significant threshold", 20, 5, model.ImpactSignificant},
		{"large change", 100, 50, model.ImpactSignificant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := &model.ContentDiff{LinesAdded: tt.added, LinesRemoved: tt.removed}
			if got := s.Assess(diff); got != tt.want {
				t.Errorf("Assess(+%d/-%d) = %v, want %v", tt.added, tt.removed, got, tt.want)
			}
		})
	}
}

func TestKeywordStrategy(t *testing.T) {
	s := &KeywordStrategy{
		Base:     NewLineCountStrategy(),
		Keywords: []string{"deadline", "URGENT"},
	}

	t.Run("keyword escalates to significant", func(t *testing.T) {
		diff := &model.ContentDiff{
			DiffText:   "+new project deadline is friday\n",
			LinesAdded: 1,
		}
		if got := s.Assess(diff); got != model.ImpactSignificant {
			t.Errorf("Assess() = %v, want %v", got, model.ImpactSignificant)
		}
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		diff := &model.ContentDiff{
			DiffText:   "+this is urgent\n",
			LinesAdded: 1,
		}
		if got := s.Assess(diff); got != model.ImpactSignificant {
			t.Errorf("Assess() = %v, want %v", got, model.ImpactSignificant)
		}
	})

	t.Run("no keyword defers to base strategy", func(t *testing.T) {
		diff := &model.ContentDiff{
			DiffText:   "+minor wording tweak\n",
			LinesAdded: 1,
		}
		if got := s.Assess(diff); got != model.ImpactBrief {
			t.Errorf("Assess() = %v, want %v", got, model.ImpactBrief)
		}
	})

	t.Run("empty keyword is ignored", func(t *testing.T) {
		s := &KeywordStrategy{Base: NewLineCountStrategy(), Keywords: []string{""}}
		diff := &model.ContentDiff{DiffText: "+anything\n", LinesAdded: 1}
		if got := s.Assess(diff); got != model.ImpactBrief {
			t.Errorf("Assess() = %v, want %v", got, model.ImpactBrief)
		}
	})
}

func TestClassify(t *testing.T) {
	diffTime := time.Date(2025, 3, 10, 14, 5, 30, 0, time.UTC)
	now := diffTime.Add(time.Second)

	c := NewClassifier(NewLineCountStrategy(), stubClock{now: now}, stubIDGen{id: "entry-1"})

	version := &model.FileVersion{
		VersionID: 4,
		Path:      "/notes/projects.md",
		Content:   "New content.\n",
	}
	diff := &model.ContentDiff{
		Path:         "/notes/projects.md",
		OldVersionID: 3,
		NewVersionID: 4,
		ChangeType:   model.ChangeModified,
		DiffText:     "--- old\n+++ new\n@@ -1 +1 @@\n-Old content about kubernetes.\n+New content.\n",
		LinesAdded:   1,
		LinesRemoved: 1,
		CreatedAt:    diffTime,
	}

	entry := c.Classify(diff, version, "realtime")

	if entry.ID != "entry-1" {
		t.Errorf("ID = %s, want entry-1", entry.ID)
	}
	if entry.VersionID != 4 {
		t.Errorf("VersionID = %d, want 4", entry.VersionID)
	}
	if entry.Date != "2025-03-10" {
		t.Errorf("Date = %s, want 2025-03-10", entry.Date)
	}
	if entry.Time != "14:05:30" {
		t.Errorf("Time = %s, want 14:05:30", entry.Time)
	}
	if entry.Type != "modified" {
		t.Errorf("Type = %s, want modified", entry.Type)
	}
	if entry.Summary != "Modified projects.md: +1/-1 lines" {
		t.Errorf("Summary = %q", entry.Summary)
	}
	if !entry.Impact.Valid() {
		t.Errorf("Impact = %q is outside the allowed domain", entry.Impact)
	}
	if entry.Impact != model.ImpactBrief {
		t.Errorf("Impact = %v, want %v", entry.Impact, model.ImpactBrief)
	}
	if entry.SourceType != "realtime" {
		t.Errorf("SourceType = %s, want realtime", entry.SourceType)
	}
	if !entry.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, now)
	}

	// Searchable text carries the summary, the path, and diff tokens.
	for _, want := range []string{"projects.md", "/notes/projects.md", "kubernetes"} {
		if !strings.Contains(entry.Searchable, want) {
			t.Errorf("Searchable missing %q:\n%s", want, entry.Searchable)
		}
	}
	// Header file labels must not leak into the search tokens.
	if strings.Contains(entry.Searchable, "@@") {
		t.Errorf("Searchable contains hunk header: %s", entry.Searchable)
	}
}

func TestClassifySummaries(t *testing.T) {
	c := NewClassifier(NewLineCountStrategy(), stubClock{now: time.Now()}, stubIDGen{id: "x"})
	version := &model.FileVersion{VersionID: 1, Path: "/notes/a.md"}

	t.Run("created", func(t *testing.T) {
		diff := &model.ContentDiff{
			Path: "/notes/a.md", ChangeType: model.ChangeCreated,
			NewVersionID: 1, LinesAdded: 7,
		}
		entry := c.Classify(diff, version, "sweep")
		if entry.Summary != "Created a.md with 7 lines" {
			t.Errorf("Summary = %q", entry.Summary)
		}
	})

	t.Run("deleted", func(t *testing.T) {
		diff := &model.ContentDiff{
			Path: "/notes/a.md", ChangeType: model.ChangeDeleted,
			OldVersionID: 1, NewVersionID: 2, LinesRemoved: 7,
		}
		entry := c.Classify(diff, version, "sweep")
		if entry.Summary != "Deleted a.md (7 lines removed)" {
			t.Errorf("Summary = %q", entry.Summary)
		}
	})
}

func TestDiffTokens(t *testing.T) {
	t.Run("tokens are deduplicated and lowercased", func(t *testing.T) {
		tokens := diffTokens("+Alpha beta ALPHA\n-beta gamma\n")
		want := []string{"alpha", "beta", "gamma"}
		if len(tokens) != len(want) {
			t.Fatalf("diffTokens() = %v, want %v", tokens, want)
		}
		for i := range want {
			if tokens[i] != want[i] {
				t.Errorf("token[%d] = %s, want %s", i, tokens[i], want[i])
			}
		}
	})

	t.Run("short words are skipped", func(t *testing.T) {
		tokens := diffTokens("+a an the cat\n")
		if len(tokens) != 2 || tokens[0] != "the" || tokens[1] != "cat" {
			t.Errorf("diffTokens() = %v, want [the cat]", tokens)
		}
	})

	t.Run("token count is capped", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("+")
		for i := 0; i < 100; i++ {
			b.WriteString(string(rune('a'+i%26)) + "word" + string(rune('0'+i%10)) + string(rune('0'+i/10)) + " ")
		}
		b.WriteString("\n")
		tokens := diffTokens(b.String())
		if len(tokens) > maxSearchTokens {
			t.Errorf("len(tokens) = %d, want <= %d", len(tokens), maxSearchTokens)
		}
	})
}
