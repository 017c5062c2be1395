package server

import "time"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// AskRequest represents a research question.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is an answered question, with the route that served it
// and the article URLs the answer is grounded in.
type AskResponse struct {
	Route      string   `json:"route"`
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`
	DurationMs int64    `json:"duration_ms"`
}

// ReportRequest asks for a structured report on one ingested article.
type ReportRequest struct {
	URL   string `json:"url"`
	Topic string `json:"topic"`
}

// ReportResponse carries the generated markdown report.
type ReportResponse struct {
	URL    string `json:"url"`
	Topic  string `json:"topic"`
	Report string `json:"report"`
}

// IngestRunRequest triggers a crawl. Enqueue publishes discoveries to
// the stream instead of ingesting inline.
type IngestRunRequest struct {
	Enqueue bool `json:"enqueue"`
}

// CrawlStats summarises one inline crawl-and-index run.
type CrawlStats struct {
	Pages      int `json:"pages"`
	Discovered int `json:"discovered"`
	Skipped    int `json:"skipped"`
	Indexed    int `json:"indexed"`
	Failed     int `json:"failed"`
}

// IngestRunResponse reports what a triggered run did. Stats is set for
// inline runs, RunID and Published for enqueued ones.
type IngestRunResponse struct {
	Mode      string      `json:"mode"`
	RunID     string      `json:"run_id,omitempty"`
	Published int         `json:"published,omitempty"`
	Stats     *CrawlStats `json:"stats,omitempty"`
	Stopped   string      `json:"stopped,omitempty"`
}

// LedgerStatus is the ingest ledger roll-up.
type LedgerStatus struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
}

// QueueStatus surfaces consumer group lag for the discovery stream.
type QueueStatus struct {
	Stream       string `json:"stream"`
	Group        string `json:"group"`
	Pending      int64  `json:"pending"`
	Lag          int64  `json:"lag"`
	Consumers    int64  `json:"consumers"`
	OldestIdleMs int64  `json:"oldest_idle_ms"`
}

// IngestStatusResponse is the pipeline status view. Queue is omitted
// when no queue is wired or the broker cannot be reached.
type IngestStatusResponse struct {
	Ledger LedgerStatus `json:"ledger"`
	Queue  *QueueStatus `json:"queue,omitempty"`
}

// QueryLogEntry is one answered question from the query log.
type QueryLogEntry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Question   string    `json:"question"`
	Route      string    `json:"route"`
	Answer     string    `json:"answer"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CorpusArticleSummary is one corpus record without its content.
type CorpusArticleSummary struct {
	URL   string `json:"url"`
	Chars int    `json:"chars"`
}

// CorpusListResponse lists the loaded corpus snapshot.
type CorpusListResponse struct {
	Count    int                    `json:"count"`
	Articles []CorpusArticleSummary `json:"articles"`
}

// CorpusSearchHit is one keyword match against the corpus.
type CorpusSearchHit struct {
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
	Snippet string  `json:"snippet"`
}

// CorpusSearchResponse carries the hits for a corpus search.
type CorpusSearchResponse struct {
	Query string            `json:"query"`
	Hits  []CorpusSearchHit `json:"hits"`
}
