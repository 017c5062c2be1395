package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fetch modes selectable via ingest.fetch_mode.
const (
	ModeStatic  = "static"
	ModeBrowser = "browser"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 5 << 20
)

// ErrRobotsDisallowed is returned when robots.txt forbids fetching a URL.
var ErrRobotsDisallowed = errors.New("fetch: disallowed by robots.txt")

// Result carries a fetched page. HTML is the raw document for link
// extraction; Text is the extracted article body with boilerplate
// removed. Text is never truncated, article storage depends on the
// full body surviving the fetch.
type Result struct {
	URL      string
	FinalURL string
	Title    string
	Byline   string
	HTML     string
	Text     string
	Status   int
	FetchMS  int
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// Options configures the constructed fetcher.
type Options struct {
	Mode      string
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// New builds a fetcher for the configured mode.
func New(opts Options) (Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	switch opts.Mode {
	case "", ModeStatic:
		return NewStatic(opts.Timeout, opts.UserAgent, opts.MaxBytes), nil
	case ModeBrowser:
		return &Browser{Timeout: opts.Timeout, UserAgent: opts.UserAgent}, nil
	default:
		return nil, fmt.Errorf("unsupported fetch mode %q", opts.Mode)
	}
}
