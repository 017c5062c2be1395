package helpers

import (
	"strings"
	"unicode"
)

// NormalizeWhitespace collapses every run of whitespace into a single space
// and trims the result. Article content is normalised exactly once, at scrape
// time; chunking and reconstruction both assume text in this form.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Slugify reduces s to a short lowercase identifier safe for filenames.
// Non-alphanumeric runs become single hyphens; the result is capped at max
// runes (max <= 0 means no cap).
func Slugify(s string, max int) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if max > 0 {
		runes := []rune(out)
		if len(runes) > max {
			out = strings.Trim(string(runes[:max]), "-")
		}
	}
	return out
}

// TruncateRunes shortens s to at most max runes, appending an ellipsis when
// anything was cut. Used for log lines and API snippets, never for stored
// chunk content.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// StripCodeFence unwraps a markdown code block. Models often wrap JSON
// or Cypher in ```lang fences even when told not to; anything outside
// the first fence is discarded.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first != "" && !strings.ContainsAny(first, " \t{}()[]") {
			s = s[idx+1:]
		}
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
