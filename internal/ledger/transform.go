package ledger

import "strings"

// Transformer normalizes candidate content before hashing and no-op
// detection. Transformers registered on a Service run synchronously in
// registration order; the output of one feeds the next.
type Transformer interface {
	Transform(content string) string
}

// NewlineNormalizer rewrites CRLF and bare CR line endings to LF so
// editors that flip line endings don't produce spurious versions.
type NewlineNormalizer struct{}

func (NewlineNormalizer) Transform(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

// TrailingSpaceTrimmer strips trailing spaces and tabs from every line.
type TrailingSpaceTrimmer struct{}

func (TrailingSpaceTrimmer) Transform(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// TransformerByName maps a configuration name to its Transformer.
// Unknown names return nil.
func TransformerByName(name string) Transformer {
	switch name {
	case "normalize_newlines":
		return NewlineNormalizer{}
	case "trim_trailing_space":
		return TrailingSpaceTrimmer{}
	}
	return nil
}
