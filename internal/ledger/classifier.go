package ledger

import (
	"fmt"
	"path/filepath"
	"strings"

	"kbwatch/internal/model"
)

// ImpactStrategy maps an accepted diff to one of the three impact
// levels. Strategies are pluggable; the only hard constraint is the
// three-valued output domain, which the store's CHECK constraint
// enforces on insert.
type ImpactStrategy interface {
	Assess(diff *model.ContentDiff) model.Impact
}

// LineCountStrategy assigns impact by the magnitude of lines changed.
type LineCountStrategy struct {
	ModerateAt    int // total changed lines at which impact becomes moderate
	SignificantAt int // total changed lines at which impact becomes significant
}

// NewLineCountStrategy returns the default magnitude thresholds.
func NewLineCountStrategy() *LineCountStrategy {
	return &LineCountStrategy{ModerateAt: 5, SignificantAt: 25}
}

func (s *LineCountStrategy) Assess(diff *model.ContentDiff) model.Impact {
	total := diff.LinesAdded + diff.LinesRemoved
	switch {
	case total >= s.SignificantAt:
		return model.ImpactSignificant
	case total >= s.ModerateAt:
		return model.ImpactModerate
	}
	return model.ImpactBrief
}

// KeywordStrategy escalates to significant when any configured keyword
// appears in the diff's changed lines, otherwise defers to the base
// strategy. Keywords are matched case-insensitively.
type KeywordStrategy struct {
	Base     ImpactStrategy
	Keywords []string
}

func (s *KeywordStrategy) Assess(diff *model.ContentDiff) model.Impact {
	lower := strings.ToLower(diff.DiffText)
	for _, kw := range s.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return model.ImpactSignificant
		}
	}
	return s.Base.Assess(diff)
}

// Classifier turns a materialized diff into a searchable, impact-tagged
// semantic entry.
type Classifier struct {
	strategy ImpactStrategy
	clock    Clock
	idgen    IDGenerator
}

// NewClassifier creates a Classifier with the given impact strategy.
func NewClassifier(strategy ImpactStrategy, clock Clock, idgen IDGenerator) *Classifier {
	return &Classifier{strategy: strategy, clock: clock, idgen: idgen}
}

// Classify produces one SemanticEntry for a materialized diff.
// source identifies the detector that observed the change.
func (c *Classifier) Classify(diff *model.ContentDiff, version *model.FileVersion, source string) *model.SemanticEntry {
	now := c.clock.Now()
	summary := summarize(diff)

	return &model.SemanticEntry{
		ID:         c.idgen.New(),
		VersionID:  version.VersionID,
		Path:       version.Path,
		Timestamp:  diff.CreatedAt,
		Date:       diff.CreatedAt.Format("2006-01-02"),
		Time:       diff.CreatedAt.Format("15:04:05"),
		Type:       string(diff.ChangeType),
		Summary:    summary,
		Impact:     c.strategy.Assess(diff),
		Searchable: searchableText(summary, version.Path, diff.DiffText),
		SourceType: source,
		CreatedAt:  now,
	}
}

func summarize(diff *model.ContentDiff) string {
	name := filepath.Base(diff.Path)
	switch diff.ChangeType {
	case model.ChangeCreated:
		return fmt.Sprintf("Created %s with %d lines", name, diff.LinesAdded)
	case model.ChangeDeleted:
		return fmt.Sprintf("Deleted %s (%d lines removed)", name, diff.LinesRemoved)
	}
	return fmt.Sprintf("Modified %s: +%d/-%d lines", name, diff.LinesAdded, diff.LinesRemoved)
}

// maxSearchTokens caps how many diff tokens feed the searchable text.
const maxSearchTokens = 32

// searchableText concatenates the summary, the file path, and distinct
// word tokens from the diff's changed lines for lookup.
func searchableText(summary, path, diffText string) string {
	parts := []string{summary, path}
	parts = append(parts, diffTokens(diffText)...)
	return strings.Join(parts, " ")
}

func diffTokens(diffText string) []string {
	seen := make(map[string]bool)
	var tokens []string

	for _, line := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if !strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "-") {
			continue
		}
		for _, word := range strings.FieldsFunc(line[1:], isTokenSeparator) {
			word = strings.ToLower(word)
			if len(word) < 3 || seen[word] {
				continue
			}
			seen[word] = true
			tokens = append(tokens, word)
			if len(tokens) >= maxSearchTokens {
				return tokens
			}
		}
	}
	return tokens
}

func isTokenSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}
