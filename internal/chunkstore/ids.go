package chunkstore

import (
	"fmt"
	"strings"
)

// Key format contracts. These two shapes are the only persisted ID forms:
// "{url}-part-{i}" for parent segments and "{url}-chunk-{i}" for searchable
// segments, with i zero-based and contiguous per URL.

// ParentID returns the parent-segment key for url at index i.
func ParentID(url string, i int) string {
	return fmt.Sprintf("%s-part-%d", url, i)
}

// SearchableID returns the searchable-segment key for url at index i.
func SearchableID(url string, i int) string {
	return fmt.Sprintf("%s-chunk-%d", url, i)
}

// SourceURL recovers the article URL from a searchable-segment ID by
// stripping the trailing "-chunk-{i}" suffix. The bool is false when id does
// not carry the suffix.
func SourceURL(id string) (string, bool) {
	idx := strings.LastIndex(id, "-chunk-")
	if idx <= 0 {
		return "", false
	}
	tail := id[idx+len("-chunk-"):]
	if tail == "" {
		return "", false
	}
	for _, r := range tail {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id[:idx], true
}

// DeriveSourceURLs maps a set of searchable-segment IDs to the distinct
// article URLs behind them. IDs that do not match the key format are
// ignored. This is the recovery path for seeding the ingest ledger from an
// already-populated store.
func DeriveSourceURLs(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if url, ok := SourceURL(id); ok {
			out[url] = struct{}{}
		}
	}
	return out
}
