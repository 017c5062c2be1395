package corpus

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve"
)

// DefaultSearchSize caps a search when the caller passes no limit.
const DefaultSearchSize = 10

const snippetRunes = 300

// Hit is one keyword match.
type Hit struct {
	URL     string
	Score   float64
	Rank    int
	Snippet string
}

// Searcher holds an in-memory keyword index over a corpus snapshot.
type Searcher struct {
	index bleve.Index
	meta  map[string]Article
}

// NewSearcher indexes every article of the corpus.
func NewSearcher(c *Corpus) (*Searcher, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve index: %w", err)
	}
	s := &Searcher{index: index, meta: make(map[string]Article, c.Len())}
	for _, a := range c.Articles() {
		if err := index.Index(a.URL, a); err != nil {
			return nil, fmt.Errorf("index %s: %w", a.URL, err)
		}
		s.meta[a.URL] = a
	}
	return s, nil
}

// Search runs a query-string search and returns the top k hits, each with
// a snippet of the matched article.
func (s *Searcher) Search(query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if k < 1 {
		k = DefaultSearchSize
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), k, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		hits = append(hits, Hit{
			URL:     hit.ID,
			Score:   hit.Score,
			Rank:    i + 1,
			Snippet: snippet(s.meta[hit.ID].Content),
		})
	}
	return hits, nil
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetRunes {
		return s
	}
	return string(runes[:snippetRunes]) + "..."
}
