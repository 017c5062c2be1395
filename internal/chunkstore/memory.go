package chunkstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Store used by tests and by the dev "memory"
// backend. It mirrors backend semantics: upserts overwrite by ID, queries
// rank by cosine similarity, fetch omits absent IDs.
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{namespaces: make(map[string]map[string]Record)}
}

func (m *Memory) Upsert(_ context.Context, namespace string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record, len(records))
		m.namespaces[namespace] = ns
	}
	for _, rec := range records {
		values := append([]float32(nil), rec.Values...)
		meta := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		ns[rec.ID] = Record{ID: rec.ID, Values: values, Metadata: meta}
	}
	return nil
}

func (m *Memory) Query(_ context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK < 1 {
		topK = 1
	}
	var matches []Match
	for _, rec := range m.namespaces[namespace] {
		match := Match{ID: rec.ID, Score: cosineSimilarity(vector, rec.Values)}
		if includeMetadata {
			meta := make(map[string]string, len(rec.Metadata))
			for k, v := range rec.Metadata {
				meta[k] = v
			}
			match.Metadata = meta
		}
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Fetch(_ context.Context, namespace string, ids []string) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(ids))
	ns := m.namespaces[namespace]
	for _, id := range ids {
		if rec, ok := ns[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) ListIDs(_ context.Context, namespace string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := m.namespaces[namespace]
	ids := make([]string, 0, len(ns))
	for id := range ns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Count reports how many records a namespace holds. Test helper.
func (m *Memory) Count(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace])
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*Memory)(nil)
