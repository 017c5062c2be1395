// Package corpus handles the portable JSON article dump: a flat array of
// {url, content} records. The batch graph builder can consume it in place
// of the vector store, the corpus CLI lists and searches it, and export
// rebuilds it from the ingest ledger so the dump mirrors what is indexed.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Article is one corpus record.
type Article struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Corpus is an ordered collection of articles, unique by URL.
type Corpus struct {
	articles []Article
	byURL    map[string]int
	logger   *log.Logger
}

// New returns an empty corpus.
func New() *Corpus {
	return &Corpus{
		byURL:  make(map[string]int),
		logger: log.New(log.Writer(), "[CORPUS] ", log.LstdFlags),
	}
}

// Load reads a corpus file. A missing file yields an empty corpus so a
// first run can start from nothing; any other read or decode failure is
// an error.
func Load(path string) (*Corpus, error) {
	c := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c.logger.Printf("%s not found, starting empty", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var articles []Article
	if err := json.Unmarshal(data, &articles); err != nil {
		return nil, fmt.Errorf("decode corpus %s: %w", path, err)
	}
	for _, a := range articles {
		c.Add(a)
	}
	return c, nil
}

// Save writes the corpus as an indented JSON array.
func (c *Corpus) Save(path string) error {
	data, err := json.MarshalIndent(c.articles, "", "    ")
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	return nil
}

// Add appends an article unless its URL is already present or it has no
// content. It reports whether the record was taken.
func (c *Corpus) Add(a Article) bool {
	a.URL = strings.TrimSpace(a.URL)
	if a.URL == "" || strings.TrimSpace(a.Content) == "" {
		return false
	}
	if _, ok := c.byURL[a.URL]; ok {
		return false
	}
	c.byURL[a.URL] = len(c.articles)
	c.articles = append(c.articles, a)
	return true
}

// Get returns the article stored under the URL.
func (c *Corpus) Get(url string) (Article, bool) {
	i, ok := c.byURL[url]
	if !ok {
		return Article{}, false
	}
	return c.articles[i], true
}

// Len returns the number of articles.
func (c *Corpus) Len() int { return len(c.articles) }

// Articles returns the records in insertion order.
func (c *Corpus) Articles() []Article {
	out := make([]Article, len(c.articles))
	copy(out, c.articles)
	return out
}

// URLs returns the article URLs in insertion order.
func (c *Corpus) URLs() []string {
	out := make([]string, len(c.articles))
	for i, a := range c.articles {
		out[i] = a.URL
	}
	return out
}

// Article satisfies the graph builder's article source, letting a corpus
// file stand in for the vector store as extraction input. Unknown URLs
// yield the empty string, which the builder skips.
func (c *Corpus) Article(_ context.Context, url string) (string, error) {
	a, ok := c.Get(url)
	if !ok {
		return "", nil
	}
	return a.Content, nil
}

// ArticleSource yields full article text by URL, empty when gone. The
// reconstruction service implements it.
type ArticleSource interface {
	Article(ctx context.Context, url string) (string, error)
}

// LedgerSource lists the URLs the ingest ledger marks indexed.
type LedgerSource interface {
	ProcessedURLs(ctx context.Context) (map[string]struct{}, error)
}

// Export rebuilds a corpus from every indexed article, in URL order.
// Articles that fail to rebuild are logged and left out.
func Export(ctx context.Context, ledger LedgerSource, articles ArticleSource) (*Corpus, error) {
	indexed, err := ledger.ProcessedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load indexed urls: %w", err)
	}
	urls := make([]string, 0, len(indexed))
	for url := range indexed {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	c := New()
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := articles.Article(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Printf("warn: rebuild %s: %v", url, err)
			continue
		}
		if text == "" {
			c.logger.Printf("warn: no stored parts for %s", url)
			continue
		}
		c.Add(Article{URL: url, Content: text})
	}
	c.logger.Printf("exported %d of %d indexed articles", c.Len(), len(urls))
	return c, nil
}
