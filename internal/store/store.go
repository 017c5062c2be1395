package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store wraps the Postgres connection used for the ingest ledger,
// queue idempotency keys, job checkpoints, users and the query log.
type Store struct {
	DB *sql.DB
}

// Checkpoint statuses persisted for long running jobs.
const (
	CheckpointStatusRunning   = "running"
	CheckpointStatusCompleted = "completed"
)

// Checkpoint captures durable progress for a resumable job such as the
// knowledge graph extraction pass.
type Checkpoint struct {
	Job       string
	Status    string
	Position  int
	Payload   map[string]interface{}
	Retries   int
	UpdatedAt time.Time
}

// LedgerEntry is one row of the ingest ledger.
type LedgerEntry struct {
	URL              string
	FirstSeen        time.Time
	LastIndexed      *time.Time
	ParentChunks     int
	SearchableChunks int
}

// LedgerStats summarises ledger occupancy.
type LedgerStats struct {
	Total   int
	Indexed int
}

// QueryRecord is one answered question kept in the query log.
type QueryRecord struct {
	ID         int64
	UserID     string
	Question   string
	Route      string
	Answer     string
	DurationMs int
	CreatedAt  time.Time
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// ClaimURL registers a URL as in-flight. It returns false when the URL
// is already claimed or indexed, so concurrent ingest runs and workers
// never process the same article twice.
func (s *Store) ClaimURL(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, fmt.Errorf("url must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`, url).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ReleaseURL drops an unfinished claim so the URL can be retried.
// Indexed rows are left untouched.
func (s *Store) ReleaseURL(ctx context.Context, url string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM ingest_ledger WHERE url=$1 AND last_indexed IS NULL`, url)
	return err
}

// ReclaimStale removes claims older than the cutoff that never reached
// indexed state, typically left behind by a crashed worker.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM ingest_ledger WHERE last_indexed IS NULL AND first_seen < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(olderThan/time.Second)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkIndexed finalises a claim after all chunks were upserted.
func (s *Store) MarkIndexed(ctx context.Context, url string, parentChunks, searchableChunks int) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE ingest_ledger SET
  last_indexed      = NOW(),
  parent_chunks     = $2,
  searchable_chunks = $3
WHERE url = $1;
`, url, parentChunks, searchableChunks)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mark indexed: url %q was never claimed", url)
	}
	return nil
}

// IsProcessed reports whether a URL has been fully indexed.
func (s *Store) IsProcessed(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ingest_ledger WHERE url=$1 AND last_indexed IS NOT NULL)`, url).Scan(&exists)
	return exists, err
}

// ProcessedURLs returns the set of fully indexed article URLs.
func (s *Store) ProcessedURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT url FROM ingest_ledger WHERE last_indexed IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		out[url] = struct{}{}
	}
	return out, rows.Err()
}

// SeedProcessed marks the given URLs as already indexed, skipping ones
// the ledger knows. Used to rebuild the ledger from vector store IDs.
func (s *Store) SeedProcessed(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO ingest_ledger (url, first_seen, last_indexed)
SELECT u, NOW(), NOW() FROM unnest($1::text[]) AS u
ON CONFLICT (url) DO NOTHING;
`, pq.Array(urls))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LedgerStats returns total and indexed row counts.
func (s *Store) LedgerStats(ctx context.Context) (LedgerStats, error) {
	var st LedgerStats
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(last_indexed) FROM ingest_ledger`).Scan(&st.Total, &st.Indexed)
	return st, err
}

// ListLedger returns the most recently indexed entries first.
func (s *Store) ListLedger(ctx context.Context, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, first_seen, last_indexed, parent_chunks, searchable_chunks
FROM ingest_ledger
ORDER BY last_indexed DESC NULLS LAST, first_seen DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.URL, &e.FirstSeen, &e.LastIndexed, &e.ParentChunks, &e.SearchableChunks); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimIdempotency attempts to register a processed event. It returns false if the key already exists.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// UpsertCheckpoint persists progress for a named job.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.Job == "" {
		return fmt.Errorf("job is required")
	}
	payloadBytes, err := json.Marshal(cp.Payload)
	if err != nil {
		return fmt.Errorf("marshal checkpoint payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO job_checkpoints (job, status, position, payload, retries, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (job) DO UPDATE SET
  status     = EXCLUDED.status,
  position   = EXCLUDED.position,
  payload    = EXCLUDED.payload,
  retries    = EXCLUDED.retries,
  updated_at = NOW();
`, cp.Job, cp.Status, cp.Position, payloadBytes, cp.Retries)
	return err
}

// GetCheckpoint retrieves a checkpoint for a job. The bool indicates whether a record was found.
func (s *Store) GetCheckpoint(ctx context.Context, job string) (Checkpoint, bool, error) {
	var (
		payloadBytes []byte
		cp           Checkpoint
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT job, status, position, payload, retries, updated_at
FROM job_checkpoints
WHERE job = $1`, job)
	if err := row.Scan(&cp.Job, &cp.Status, &cp.Position, &payloadBytes, &cp.Retries, &cp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	if len(payloadBytes) > 0 {
		var m map[string]interface{}
		_ = json.Unmarshal(payloadBytes, &m)
		cp.Payload = m
	}
	return cp, true, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// LogQuery records an answered question for later inspection.
func (s *Store) LogQuery(ctx context.Context, userID, question, route, answer string, took time.Duration) error {
	uid := sql.NullString{String: userID, Valid: userID != ""}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO query_log (user_id, question, route, answer, duration_ms)
VALUES ($1,$2,$3,$4,$5);
`, uid, question, route, answer, int(took/time.Millisecond))
	return err
}

// RecentQueries returns the latest query log entries, newest first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, COALESCE(user_id::text, ''), question, route, answer, duration_ms, created_at
FROM query_log
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueryRecord
	for rows.Next() {
		var q QueryRecord
		if err := rows.Scan(&q.ID, &q.UserID, &q.Question, &q.Route, &q.Answer, &q.DurationMs, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
