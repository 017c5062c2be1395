package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every
// HTML element and attribute, leaving plain text with script and style
// payloads removed.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// HTMLToText strips all markup from s, unescapes entities and normalises the
// surviving text to single-space separated form. Extracted article bodies pass
// through here before chunking so that stored content is stable under
// re-ingestion.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return NormalizeWhitespace(html.UnescapeString(StrictHTMLPolicy().Sanitize(s)))
}
