package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PGVector serves the Store protocol from a Postgres table with a pgvector
// column. It shares the application's *sql.DB; the chunk_vectors table is
// created by the migrations.
type PGVector struct {
	db   *sql.DB
	dims int
}

// NewPGVector wraps db. dims fixes the expected vector width; mismatched
// vectors are rejected before reaching the database.
func NewPGVector(db *sql.DB, dims int) (*PGVector, error) {
	if db == nil {
		return nil, fmt.Errorf("pgvector: db is nil")
	}
	if dims < 1 {
		dims = DefaultDimensions
	}
	return &PGVector{db: db, dims: dims}, nil
}

func (s *PGVector) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunk_vectors (namespace, id, embedding, metadata, updated_at)
VALUES ($1,$2,$3::vector,$4,NOW())
ON CONFLICT (namespace, id) DO UPDATE SET
  embedding  = EXCLUDED.embedding,
  metadata   = EXCLUDED.metadata,
  updated_at = NOW();
`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("pgvector upsert: empty record id")
		}
		if len(rec.Values) != s.dims {
			return fmt.Errorf("pgvector upsert: record %q has %d dims, want %d", rec.ID, len(rec.Values), s.dims)
		}
		literal, err := encodeVectorLiteral(rec.Values)
		if err != nil {
			return fmt.Errorf("encode vector for %q: %w", rec.ID, err)
		}
		metaBytes, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, namespace, rec.ID, literal, metaBytes); err != nil {
			return fmt.Errorf("upsert %q: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PGVector) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("pgvector query: vector has %d dims, want %d", len(vector), s.dims)
	}
	if topK < 1 {
		topK = 1
	}
	literal, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, metadata, 1 - (embedding <=> $2::vector) AS score
FROM chunk_vectors
WHERE namespace = $1
ORDER BY embedding <=> $2::vector
LIMIT $3
`, namespace, literal, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m         Match
			metaBytes []byte
		)
		if err := rows.Scan(&m.ID, &metaBytes, &m.Score); err != nil {
			return nil, err
		}
		if includeMetadata && len(metaBytes) > 0 {
			meta := map[string]string{}
			if err := json.Unmarshal(metaBytes, &meta); err == nil {
				m.Metadata = meta
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PGVector) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, embedding::text, metadata
FROM chunk_vectors
WHERE namespace = $1 AND id = ANY($2)
`, namespace, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       Record
			literal   string
			metaBytes []byte
		)
		if err := rows.Scan(&rec.ID, &literal, &metaBytes); err != nil {
			return nil, err
		}
		if rec.Values, err = decodeVectorLiteral(literal); err != nil {
			return nil, fmt.Errorf("decode vector for %q: %w", rec.ID, err)
		}
		if len(metaBytes) > 0 {
			meta := map[string]string{}
			if err := json.Unmarshal(metaBytes, &meta); err == nil {
				rec.Metadata = meta
			}
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

func (s *PGVector) ListIDs(ctx context.Context, namespace string, limit int) ([]string, error) {
	query := `SELECT id FROM chunk_vectors WHERE namespace = $1 ORDER BY id`
	args := []interface{}{namespace}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGVector) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

var _ Store = (*PGVector)(nil)
