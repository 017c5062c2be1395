// Package chunkstore defines the vector-store protocol the indexing and
// retrieval pipelines speak: two namespaces, a deterministic ID scheme, and
// upsert/query/fetch operations that any compliant backend can serve.
package chunkstore

import "context"

// Namespaces partitioning the store. Parent segments live apart from the
// searchable segments so similarity search never surfaces a 38k-char blob.
const (
	NamespaceArticles = "full-articles"
	NamespaceChunks   = "article-chunks"
)

// Metadata keys persisted with records.
const (
	MetaText      = "text"
	MetaSourceURL = "source_url"
	MetaChunkText = "chunk_text"
)

// MaxUpsertBatch bounds how many records the ingestion engine sends per
// upsert call.
const MaxUpsertBatch = 100

// DefaultDimensions is the embedding width assumed when none is configured.
const DefaultDimensions = 1536

// Record is a stored vector with its metadata.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]string
}

// Match is a query hit. Score is cosine similarity, higher is better; the
// confidence gate in the semantic pipeline compares against it directly.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is the protocol boundary toward the vector backend. Fetch reports
// absence by omitting the ID from the result map, never by error; every
// write is an overwrite-safe upsert.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]Match, error)
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)
	ListIDs(ctx context.Context, namespace string, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

// PlaceholderVector returns the constant sentinel stored with parent
// segments. The first component is a small non-zero value because some
// backends reject all-zero vectors.
func PlaceholderVector(dims int) []float32 {
	if dims < 1 {
		dims = DefaultDimensions
	}
	v := make([]float32, dims)
	v[0] = 1e-05
	return v
}
