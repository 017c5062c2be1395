package fetch

import (
	"context"
	"time"
)

// Polite wraps a fetcher with robots.txt checks and per-host rate
// limiting. When robots is nil, only the limiter applies.
type Polite struct {
	inner   Fetcher
	robots  *RobotsGate
	limiter *HostLimiter
}

// NewPolite composes the crawl politeness layers around a fetcher.
func NewPolite(inner Fetcher, robots *RobotsGate, limiter *HostLimiter) *Polite {
	return &Polite{inner: inner, robots: robots, limiter: limiter}
}

// Fetch applies the politeness checks, then delegates.
func (p *Polite) Fetch(ctx context.Context, rawURL string) (Result, error) {
	var crawlDelay time.Duration
	if p.robots != nil {
		allowed, delay, err := p.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return Result{}, err
		}
		if !allowed {
			return Result{URL: rawURL}, ErrRobotsDisallowed
		}
		crawlDelay = delay
	}
	if p.limiter != nil {
		if err := p.limiter.WaitWithDelay(ctx, rawURL, crawlDelay); err != nil {
			return Result{}, err
		}
	}
	return p.inner.Fetch(ctx, rawURL)
}
