// Package budget caps what an LLM-heavy run may consume. The graph builder
// and ingestion engine feed actual usage into a Monitor and stop cleanly
// when a limit is crossed.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limits bounds a run. Zero values mean unlimited.
type Limits struct {
	MaxCostUSD  float64
	MaxTokens   int64
	MaxArticles int
}

// Validate rejects negative limits.
func (l Limits) Validate() error {
	if l.MaxCostUSD < 0 {
		return fmt.Errorf("max_cost_usd cannot be negative")
	}
	if l.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if l.MaxArticles < 0 {
		return fmt.Errorf("max_articles cannot be negative")
	}
	return nil
}

// IsZero reports whether no limit is set.
func (l Limits) IsZero() bool {
	return l.MaxCostUSD == 0 && l.MaxTokens == 0 && l.MaxArticles == 0
}

// ErrExceeded is returned when usage passes a configured limit.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
}

// IsExceeded reports whether err is a budget violation.
func IsExceeded(err error) bool {
	var e ErrExceeded
	return errors.As(err, &e)
}

// Monitor accumulates usage against Limits. Safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	limits   Limits
	costUSD  float64
	tokens   int64
	articles int
	started  time.Time
}

// NewMonitor starts tracking against limits.
func NewMonitor(limits Limits) *Monitor {
	return &Monitor{limits: limits, started: time.Now()}
}

// Add records cost and token usage from one model call. The returned error
// reports the first limit crossed; usage is recorded either way.
func (m *Monitor) Add(costUSD float64, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUSD += costUSD
	m.tokens += tokens
	if m.limits.MaxCostUSD > 0 && m.costUSD > m.limits.MaxCostUSD {
		return ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", m.costUSD),
			Limit: fmt.Sprintf("$%.4f", m.limits.MaxCostUSD),
		}
	}
	if m.limits.MaxTokens > 0 && m.tokens > m.limits.MaxTokens {
		return ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d", m.tokens),
			Limit: fmt.Sprintf("%d", m.limits.MaxTokens),
		}
	}
	return nil
}

// AddArticle counts one processed article against the article cap.
func (m *Monitor) AddArticle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles++
	if m.limits.MaxArticles > 0 && m.articles > m.limits.MaxArticles {
		return ErrExceeded{
			Kind:  "articles",
			Usage: fmt.Sprintf("%d", m.articles),
			Limit: fmt.Sprintf("%d", m.limits.MaxArticles),
		}
	}
	return nil
}

// Usage returns the totals so far.
func (m *Monitor) Usage() (costUSD float64, tokens int64, articles int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.costUSD, m.tokens, m.articles, time.Since(m.started)
}
