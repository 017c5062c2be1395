package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Normalize cleans host and pattern lists and trims string fields.
func (c IngestConfig) Normalize() IngestConfig {
	norm := c
	norm.ListingURL = strings.TrimSpace(norm.ListingURL)
	norm.PageParam = strings.TrimSpace(norm.PageParam)
	norm.FetchMode = strings.ToLower(strings.TrimSpace(norm.FetchMode))
	norm.AllowHosts = sanitizeHostList(norm.AllowHosts)
	norm.LinkIncludePatterns = sanitizePatternList(norm.LinkIncludePatterns)
	norm.LinkExcludePatterns = sanitizePatternList(norm.LinkExcludePatterns)
	return norm
}

// Validate ensures the ingest settings are well-formed.
func (c IngestConfig) Validate() error {
	norm := c.Normalize()

	if norm.ListingURL == "" {
		return fmt.Errorf("ingest.listing_url required")
	}
	u, err := url.Parse(norm.ListingURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ingest.listing_url %q is not an absolute URL", norm.ListingURL)
	}
	if norm.PagesToCheck < 1 {
		return fmt.Errorf("ingest.pages_to_check must be >= 1")
	}
	switch norm.FetchMode {
	case "static", "browser":
	default:
		return fmt.Errorf("ingest.fetch_mode must be static or browser, got %q", norm.FetchMode)
	}
	if norm.PerHostRPS <= 0 {
		return fmt.Errorf("ingest.per_host_rps must be > 0")
	}
	if norm.ParentChunkSize < 1 {
		return fmt.Errorf("ingest.parent_chunk_size must be >= 1")
	}
	if norm.ParentChunkOverlap < 0 || norm.ParentChunkOverlap >= norm.ParentChunkSize {
		return fmt.Errorf("ingest.parent_chunk_overlap must be in [0, parent_chunk_size)")
	}
	if norm.ChunkSize < 1 {
		return fmt.Errorf("ingest.chunk_size must be >= 1")
	}
	if norm.ChunkOverlap < 0 || norm.ChunkOverlap >= norm.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	if norm.UpsertBatchSize < 1 {
		return fmt.Errorf("ingest.upsert_batch_size must be >= 1")
	}
	for _, host := range norm.AllowHosts {
		if host == "" {
			return fmt.Errorf("ingest.allow_hosts entry must not be empty")
		}
	}
	return nil
}

// HostAllowed reports whether links on the given host may be followed.
// An empty allow list restricts crawling to the listing page's host.
func (c IngestConfig) HostAllowed(host string) bool {
	host = normalizeHost(host)
	if len(c.AllowHosts) == 0 {
		listing, err := url.Parse(c.ListingURL)
		if err != nil {
			return false
		}
		return host == normalizeHost(listing.Host)
	}
	for _, allowed := range c.AllowHosts {
		if host == allowed {
			return true
		}
	}
	return false
}

func sanitizeHostList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func sanitizePatternList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, raw := range values {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			value = u.Host
		}
	}
	if host, _, ok := strings.Cut(value, ":"); ok {
		value = host
	}
	return strings.TrimPrefix(value, "www.")
}
