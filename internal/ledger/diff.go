package ledger

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffResult is a computed line diff between two content snapshots.
type DiffResult struct {
	Text         string // unified diff with old/new labels
	LinesAdded   int
	LinesRemoved int
}

// ShouldMaterialize is the materialization guard: a diff is only worth
// persisting when the version ids differ and the content differs
// byte-for-byte. Either failing condition alone suppresses the diff.
// This check runs before any diff formatting so suppressed candidates
// cost nothing and a +0/-0 diff can never be produced.
func ShouldMaterialize(oldVersionID, newVersionID int64, oldContent, newContent string) bool {
	if oldVersionID == newVersionID {
		return false
	}
	return oldContent != newContent
}

// ComputeDiff produces a unified line diff between two content snapshots
// along with added/removed line counts. Returns nil when the contents are
// byte-identical or the edit script touches no lines; a nil result must
// not be persisted.
func ComputeDiff(oldContent, newContent string) (*DiffResult, error) {
	if oldContent == newContent {
		return nil, nil
	}

	ud := difflib.UnifiedDiff{
		A:        splitLines(oldContent),
		B:        splitLines(newContent),
		FromFile: "old",
		ToFile:   "new",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return nil, fmt.Errorf("formatting unified diff: %w", err)
	}

	added, removed := countChangedLines(text)
	if added == 0 && removed == 0 {
		return nil, nil
	}

	return &DiffResult{Text: text, LinesAdded: added, LinesRemoved: removed}, nil
}

// splitLines splits content into lines preserving terminators. Empty
// content maps to no lines at all, so creations and deletions diff
// cleanly against nothing rather than against a single blank line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}

// countChangedLines counts +/- lines in a unified diff, excluding the
// +++/--- file header lines.
func countChangedLines(diffText string) (added, removed int) {
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
