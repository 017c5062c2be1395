package reconstruct

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dealscope/dealscope/internal/chunkstore"
)

// Articles are stored as numbered oversize chunks. Walking stops at the
// first absent index, so a deleted middle chunk silently truncates the
// rebuilt text rather than producing a hole.
const maxParts = 512

// DefaultTTL bounds how long a rebuilt article is served from cache.
const DefaultTTL = 15 * time.Minute

// Service rebuilds full article texts from the full-articles namespace.
type Service struct {
	store  chunkstore.Store
	cache  *gocache.Cache
	logger *log.Logger
}

// New creates a Service with the given cache TTL.
func New(store chunkstore.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  store,
		cache:  gocache.New(ttl, 2*ttl),
		logger: log.New(log.Writer(), "[RECONSTRUCT] ", log.LstdFlags),
	}
}

// Article returns the full text for a source URL by concatenating its
// stored parts in order. A URL with no part at index 0 yields the
// empty string without error.
func (s *Service) Article(ctx context.Context, url string) (string, error) {
	if cached, ok := s.cache.Get(url); ok {
		return cached.(string), nil
	}

	var b strings.Builder
	for i := 0; i < maxParts; i++ {
		id := chunkstore.ParentID(url, i)
		records, err := s.store.Fetch(ctx, chunkstore.NamespaceArticles, []string{id})
		if err != nil {
			return "", fmt.Errorf("fetch part %d of %s: %w", i, url, err)
		}
		rec, ok := records[id]
		if !ok {
			break
		}
		b.WriteString(rec.Metadata[chunkstore.MetaText])
	}

	text := b.String()
	if text == "" {
		s.logger.Printf("no stored parts for %s", url)
		return "", nil
	}
	s.cache.Set(url, text, gocache.DefaultExpiration)
	return text, nil
}

// Articles rebuilds several URLs, skipping ones with no stored parts.
// Order follows the input.
func (s *Service) Articles(ctx context.Context, urls []string) ([]string, error) {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		text, err := s.Article(ctx, url)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}

// Flush drops all cached reconstructions. Used after a fresh ingest so
// updated articles are rebuilt on next access.
func (s *Service) Flush() {
	s.cache.Flush()
}
