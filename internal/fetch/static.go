package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/dealscope/dealscope/internal/helpers"
)

// Static fetches pages with a plain HTTP client. It is the default
// mode; the IMAA news pages render their article bodies server side.
type Static struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
}

// NewStatic creates a Static fetcher with the given limits.
func NewStatic(timeout time.Duration, userAgent string, maxBytes int64) *Static {
	return &Static{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
}

// Fetch retrieves the page and extracts the readable article body.
func (f *Static) Fetch(ctx context.Context, rawURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	t0 := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{URL: rawURL, Status: resp.StatusCode}, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read body: %w", err)
	}

	res := Result{
		URL:      rawURL,
		FinalURL: resp.Request.URL.String(),
		HTML:     string(body),
		Status:   resp.StatusCode,
		FetchMS:  int(time.Since(t0) / time.Millisecond),
	}
	res.Title, res.Byline, res.Text = extractArticle(res.HTML, res.FinalURL)
	return res, nil
}

// extractArticle pulls the readable body out of a document, falling
// back to sanitised full-page text when readability cannot cope.
func extractArticle(html, pageURL string) (title, byline, text string) {
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return "", "", helpers.HTMLToText(html)
	}
	return strings.TrimSpace(article.Title), strings.TrimSpace(article.Byline), helpers.NormalizeWhitespace(article.TextContent)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
