package retention

import (
	"errors"
	"strings"
	"time"
)

// ErrNoTimestamp means no filename segment matched any known timestamp
// format. Callers fall back to file modification time; the error is
// never propagated past the retention manager.
var ErrNoTimestamp = errors.New("no timestamp in artifact name")

// DefaultTimestampFormats is the precedence-ordered list of formats
// tried against filename segments. Precedence is explicit configuration:
// ambiguous names resolve to the earliest matching format in this list,
// never to incidental iteration order.
var DefaultTimestampFormats = []string{
	"20060102T150405Z",
	"20060102_150405",
	"2006-01-02",
	"20060102",
}

// artifact extensions stripped before segment parsing, outermost first.
var artifactExtensions = []string{".age", ".gz", ".bak", ".db", ".log", ".sql"}

// ParseArtifactTimestamp extracts a creation time embedded in an
// artifact filename. The name is stripped of artifact extensions and
// split on '_'; each format is tried in precedence order against every
// segment (and against adjacent segment pairs when the format itself
// contains a '_').
func ParseArtifactTimestamp(name string, formats []string) (time.Time, error) {
	if len(formats) == 0 {
		formats = DefaultTimestampFormats
	}

	base := stripExtensions(name)
	segments := strings.Split(base, "_")

	for _, format := range formats {
		if strings.Contains(format, "_") {
			for i := 0; i+1 < len(segments); i++ {
				joined := segments[i] + "_" + segments[i+1]
				if ts, err := time.Parse(format, joined); err == nil {
					return ts, nil
				}
			}
			continue
		}
		for _, seg := range segments {
			if ts, err := time.Parse(format, seg); err == nil {
				return ts, nil
			}
		}
	}

	return time.Time{}, ErrNoTimestamp
}

func stripExtensions(name string) string {
	for {
		stripped := false
		for _, ext := range artifactExtensions {
			if strings.HasSuffix(name, ext) {
				name = strings.TrimSuffix(name, ext)
				stripped = true
			}
		}
		if !stripped {
			return name
		}
	}
}
