// Package ingest discovers articles on the configured publications site
// and indexes them into the chunk store: large parent segments that
// reconstruct the full text, and small overlapping segments that carry
// real embeddings for search. The ingest ledger keeps runs incremental
// and makes concurrent workers safe.
package ingest

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/fetch"
	"github.com/dealscope/dealscope/internal/helpers"
)

// Crawler walks the paginated listing and extracts candidate article
// links.
type Crawler struct {
	fetcher fetch.Fetcher
	cfg     config.IngestConfig
	logger  *log.Logger
}

// NewCrawler builds a crawler over the configured listing.
func NewCrawler(fetcher fetch.Fetcher, cfg config.IngestConfig) *Crawler {
	return &Crawler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// PageURLs returns the listing pages to check, newest first: the bare
// listing URL, then pages 2..N through the pagination query parameter.
func (c *Crawler) PageURLs() []string {
	pages := []string{c.cfg.ListingURL}
	for i := 2; i <= c.cfg.PagesToCheck; i++ {
		pages = append(pages, pageURL(c.cfg.ListingURL, c.cfg.PageParam, i))
	}
	return pages
}

func pageURL(listing, param string, page int) string {
	u, err := url.Parse(listing)
	if err != nil {
		return listing
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// DiscoverLinks fetches one listing page and returns the candidate
// article URLs on it: canonicalized, on an allowed host, matching the
// configured include/exclude patterns, deduplicated in document order.
func (c *Crawler) DiscoverLinks(ctx context.Context, page string) ([]string, error) {
	res, err := c.fetcher.Fetch(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", page, err)
	}
	return c.filterLinks(extractLinks(res.HTML, page)), nil
}

func (c *Crawler) filterLinks(links []string) []string {
	listingCanon, _ := helpers.CanonicalURL(c.cfg.ListingURL)
	seen := make(map[string]struct{}, len(links))
	var out []string
	for _, link := range links {
		canon, err := helpers.CanonicalURL(link)
		if err != nil {
			continue
		}
		parsed, err := url.Parse(canon)
		if err != nil {
			continue
		}
		if !c.cfg.HostAllowed(parsed.Host) {
			continue
		}
		// Pagination links and the listing itself are navigation, not
		// articles.
		if canon == listingCanon || (c.cfg.PageParam != "" && parsed.Query().Has(c.cfg.PageParam)) {
			continue
		}
		if !matchesInclude(canon, c.cfg.LinkIncludePatterns) {
			continue
		}
		if matchesAny(canon, c.cfg.LinkExcludePatterns) {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out
}

// matchesInclude is satisfied by any pattern; an empty pattern list
// accepts everything.
func matchesInclude(link string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	return matchesAny(link, patterns)
}

func matchesAny(link string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(link, p) {
			return true
		}
	}
	return false
}

// extractLinks parses the document and resolves every anchor href
// against the page URL. Only http(s) targets are kept.
func extractLinks(rawHTML, page string) []string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	base, err := url.Parse(page)
	if err != nil {
		return nil
	}

	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if abs.Scheme == "http" || abs.Scheme == "https" {
					out = append(out, abs.String())
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out
}
