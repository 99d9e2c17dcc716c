package ledger

import (
	"strings"
	"testing"
)

func TestShouldMaterialize(t *testing.T) {
	tests := []struct {
		name       string
		oldID      int64
		newID      int64
		oldContent string
		newContent string
		want       bool
	}{
		{"different versions and content", 1, 2, "a\n", "b\n", true},
		{"same version id", 2, 2, "a\n", "b\n", false},
		{"identical content", 1, 2, "a\n", "a\n", false},
		{"same id and content", 3, 3, "a\n", "a\n", false},
		{"creation against nothing", 0, 1, "", "a\n", true},
		{"deletion to empty", 1, 2, "a\n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldMaterialize(tt.oldID, tt.newID, tt.oldContent, tt.newContent)
			if got != tt.want {
				t.Errorf("ShouldMaterialize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeDiff(t *testing.T) {
	t.Run("single line replacement", func(t *testing.T) {
		res, err := ComputeDiff("Old content.\n", "New content.\n")
		if err != nil {
			t.Fatalf("ComputeDiff() error = %v", err)
		}
		if res == nil {
			t.Fatal("ComputeDiff() = nil, want a diff")
		}

		if res.LinesAdded != 1 {
			t.Errorf("LinesAdded = %d, want 1", res.LinesAdded)
		}
		if res.LinesRemoved != 1 {
			t.Errorf("LinesRemoved = %d, want 1", res.LinesRemoved)
		}
		if !strings.Contains(res.Text, "-Old content.") {
			t.Errorf("diff text missing removed line:\n%s", res.Text)
		}
		if !strings.Contains(res.Text, "+New content.") {
			t.Errorf("diff text missing added line:\n%s", res.Text)
		}
	})

	t.Run("identical content returns nil", func(t *testing.T) {
		res, err := ComputeDiff("same\n", "same\n")
		if err != nil {
			t.Fatalf("ComputeDiff() error = %v", err)
		}
		if res != nil {
			t.Errorf("ComputeDiff() = %+v, want nil", res)
		}
	})

	t.Run("creation counts all lines as added", func(t *testing.T) {
		res, err := ComputeDiff("", "one\ntwo\nthree\n")
		if err != nil {
			t.Fatalf("ComputeDiff() error = %v", err)
		}
		if res == nil {
			t.Fatal("ComputeDiff() = nil, want a diff")
		}
		if res.LinesAdded != 3 {
			t.Errorf("LinesAdded = %d, want 3", res.LinesAdded)
		}
		if res.LinesRemoved != 0 {
			t.Errorf("LinesRemoved = %d, want 0", res.LinesRemoved)
		}
	})

	t.Run("deletion counts all lines as removed", func(t *testing.T) {
		res, err := ComputeDiff("one\ntwo\n", "")
		if err != nil {
			t.Fatalf("ComputeDiff() error = %v", err)
		}
		if res == nil {
			t.Fatal("ComputeDiff() = nil, want a diff")
		}
		if res.LinesAdded != 0 {
			t.Errorf("LinesAdded = %d, want 0", res.LinesAdded)
		}
		if res.LinesRemoved != 2 {
			t.Errorf("LinesRemoved = %d, want 2", res.LinesRemoved)
		}
	})

	t.Run("header lines are not counted", func(t *testing.T) {
		// The unified diff header contains "---" and "+++" lines which must
		// not inflate the counts.
		res, err := ComputeDiff("a\n", "b\n")
		if err != nil {
			t.Fatalf("ComputeDiff() error = %v", err)
		}
		if res.LinesAdded != 1 || res.LinesRemoved != 1 {
			t.Errorf("counts = +%d/-%d, want +1/-1", res.LinesAdded, res.LinesRemoved)
		}
	})

	t.Run("missing trailing newline", func(t *testing.T) {
		res, err := ComputeDiff("a", "b")
		if err != nil {
			t.Fatalf("ComputeDiff() error = %v", err)
		}
		if res == nil {
			t.Fatal("ComputeDiff() = nil, want a diff")
		}
		if res.LinesAdded != 1 || res.LinesRemoved != 1 {
			t.Errorf("counts = +%d/-%d, want +1/-1", res.LinesAdded, res.LinesRemoved)
		}
	})
}

func TestContentHash(t *testing.T) {
	// SHA-256 of the empty string is a well-known constant.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := ContentHash(""); got != want {
		t.Errorf("ContentHash(\"\") = %s, want %s", got, want)
	}

	if ContentHash("a") == ContentHash("b") {
		t.Error("different content produced the same hash")
	}
	if ContentHash("same") != ContentHash("same") {
		t.Error("identical content produced different hashes")
	}
}
