package graph

import (
	"fmt"
	"strings"
	"unicode"
)

// Cypher keywords that mutate the graph or escape into procedures.
// Generated queries are executed verbatim, so anything outside plain
// MATCH/RETURN reads is refused.
var writeKeywords = map[string]struct{}{
	"CREATE":  {},
	"MERGE":   {},
	"DELETE":  {},
	"DETACH":  {},
	"SET":     {},
	"REMOVE":  {},
	"DROP":    {},
	"CALL":    {},
	"LOAD":    {},
	"FOREACH": {},
}

// EnsureReadOnly returns an error when the Cypher statement contains a
// mutating keyword outside of string literals.
func EnsureReadOnly(cypher string) error {
	for _, word := range cypherWords(cypher) {
		if _, ok := writeKeywords[strings.ToUpper(word)]; ok {
			return fmt.Errorf("cypher statement contains write keyword %q", word)
		}
	}
	return nil
}

// cypherWords tokenizes a statement into bare words, skipping single
// quoted, double quoted and backticked segments.
func cypherWords(cypher string) []string {
	var (
		words   []string
		current strings.Builder
		quote   rune
	)
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range cypher {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			flush()
			quote = r
		case unicode.IsLetter(r) || r == '_':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}
