// Package sanitize cleans user-supplied batch labels before they are stored,
// rendered into HTML and text charts, or returned to MCP clients.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLabelLength is the maximum number of runes kept in a batch label.
const MaxLabelLength = 120

// MaxStemLength is the maximum length of a file name stem.
const MaxStemLength = 64

var (
	// reTag matches XML/HTML tags including those with attributes and self-closing tags.
	reTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>`)

	// reSpaces matches runs of whitespace.
	reSpaces = regexp.MustCompile(`\s+`)

	// reRepeatedSeparators matches 2 or more hyphens or underscores in a row.
	reRepeatedSeparators = regexp.MustCompile(`[-_]{2,}`)
)

// Label returns s reduced to a single line of plain text:
//  1. Strip control characters (newlines and tabs become spaces)
//  2. Strip XML/HTML-like tags
//  3. Collapse whitespace runs to one space and trim
//  4. Truncate to MaxLabelLength runes
func Label(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f || r == utf8.RuneError:
			continue
		default:
			b.WriteRune(r)
		}
	}

	out := reTag.ReplaceAllString(b.String(), "")
	out = strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))

	if utf8.RuneCountInString(out) > MaxLabelLength {
		runes := []rune(out)
		out = strings.TrimSpace(string(runes[:MaxLabelLength]))
	}
	return out
}

// FileStem turns a label into a file name fragment, keeping only
// [a-zA-Z0-9-_], mapping spaces to hyphens and lowercasing. It returns ""
// when nothing usable remains.
func FileStem(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(Label(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			b.WriteByte('-')
		}
	}
	out := reRepeatedSeparators.ReplaceAllStringFunc(b.String(), func(m string) string {
		return m[:1]
	})
	out = strings.Trim(out, "-_")
	if len(out) > MaxStemLength {
		out = strings.TrimRight(out[:MaxStemLength], "-_")
	}
	return out
}
