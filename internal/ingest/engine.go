package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/chunker"
	"github.com/dealscope/dealscope/internal/chunkstore"
	"github.com/dealscope/dealscope/internal/fetch"
	"github.com/dealscope/dealscope/internal/helpers"
	"github.com/dealscope/dealscope/internal/llm"
	"github.com/dealscope/dealscope/internal/store"
	"github.com/dealscope/dealscope/internal/telemetry"
)

// Stats summarises one ingest run.
type Stats struct {
	Pages      int
	Discovered int
	Skipped    int
	Indexed    int
	Failed     int
}

// Engine runs the crawl-and-index pipeline.
type Engine struct {
	cfg      config.IngestConfig
	crawler  *Crawler
	fetcher  fetch.Fetcher
	provider llm.Provider
	chunks   chunkstore.Store
	ledger   *store.Store
	parents  chunker.Splitter
	search   chunker.Splitter
	monitor  *budget.Monitor
	tel      *telemetry.Telemetry
	logger   *log.Logger
}

// NewEngine wires the pipeline. tel may be nil.
func NewEngine(cfg config.IngestConfig, fetcher fetch.Fetcher, provider llm.Provider, chunks chunkstore.Store, ledger *store.Store, monitor *budget.Monitor, tel *telemetry.Telemetry) (*Engine, error) {
	parents, err := chunker.NewSplitter(cfg.ParentChunkSize, cfg.ParentChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("parent splitter: %w", err)
	}
	search, err := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("searchable splitter: %w", err)
	}
	return &Engine{
		cfg:      cfg,
		crawler:  NewCrawler(fetcher, cfg),
		fetcher:  fetcher,
		provider: provider,
		chunks:   chunks,
		ledger:   ledger,
		parents:  parents,
		search:   search,
		monitor:  monitor,
		tel:      tel,
		logger:   log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}, nil
}

// Run crawls the listing pages and indexes every article the ledger does
// not know yet. Per-article failures are logged and counted, never
// fatal; the run aborts only on context cancellation, a budget limit or
// a ledger that cannot be read.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := e.seedLedgerFromStore(ctx); err != nil {
		return stats, err
	}
	processed, err := e.ledger.ProcessedURLs(ctx)
	if err != nil {
		return stats, fmt.Errorf("load processed urls: %w", err)
	}
	e.logger.Printf("starting run, %d urls already indexed", len(processed))

	pages := e.crawler.PageURLs()
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		links, err := e.crawler.DiscoverLinks(ctx, page)
		if err != nil {
			e.logger.Printf("warn: %v", err)
			continue
		}
		stats.Pages++
		stats.Discovered += len(links)

		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if _, done := processed[link]; done {
				stats.Skipped++
				continue
			}
			if e.monitor != nil {
				if err := e.monitor.AddArticle(); err != nil {
					e.logger.Printf("stopping run: %v", err)
					return stats, err
				}
			}

			switch _, _, err := e.ingestOne(ctx, link); {
			case err == nil:
				processed[link] = struct{}{}
				stats.Indexed++
			case errors.Is(err, ErrAlreadyClaimed):
				stats.Skipped++
			default:
				e.logger.Printf("warn: %s: %v", link, err)
				stats.Failed++
			}
		}

		if i < len(pages)-1 && e.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(e.cfg.PageDelay):
			}
		}
	}

	e.logger.Printf("run complete: pages=%d discovered=%d indexed=%d skipped=%d failed=%d",
		stats.Pages, stats.Discovered, stats.Indexed, stats.Skipped, stats.Failed)
	return stats, nil
}

// Discovery is one article link found on a listing page.
type Discovery struct {
	URL         string
	ListingPage string
}

// Discover crawls only the listing pages and returns the article links
// the ledger has not indexed yet, deduplicated across pages. The
// enqueue path publishes each one as an event instead of ingesting
// inline; the fetcher's per-host limiter paces the listing fetches.
func (e *Engine) Discover(ctx context.Context) ([]Discovery, error) {
	if err := e.seedLedgerFromStore(ctx); err != nil {
		return nil, err
	}
	processed, err := e.ledger.ProcessedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processed urls: %w", err)
	}

	var out []Discovery
	seen := make(map[string]struct{}, len(processed))
	for u := range processed {
		seen[u] = struct{}{}
	}
	for _, page := range e.crawler.PageURLs() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		links, err := e.crawler.DiscoverLinks(ctx, page)
		if err != nil {
			e.logger.Printf("warn: %v", err)
			continue
		}
		for _, link := range links {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			out = append(out, Discovery{URL: link, ListingPage: page})
		}
	}
	e.logger.Printf("discovered %d new articles", len(out))
	return out, nil
}

// ErrAlreadyClaimed marks a URL another runner holds or has finished.
var ErrAlreadyClaimed = errors.New("url already claimed")

// IngestURL claims, fetches and indexes one article, charging the
// budget first. Workers call it per consumed discovery event; the
// inline run path goes through Run instead. Returns the parent and
// searchable chunk counts.
func (e *Engine) IngestURL(ctx context.Context, url string) (int, int, error) {
	if e.monitor != nil {
		if err := e.monitor.AddArticle(); err != nil {
			return 0, 0, err
		}
	}
	return e.ingestOne(ctx, url)
}

// ingestOne claims, fetches and indexes a single article. The claim is
// released on failure so the next run retries; deterministic IDs plus
// overwrite-safe upserts make that retry harmless.
func (e *Engine) ingestOne(ctx context.Context, url string) (int, int, error) {
	claimed, err := e.ledger.ClaimURL(ctx, url)
	if err != nil {
		return 0, 0, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return 0, 0, ErrAlreadyClaimed
	}

	res, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		e.recordFetch(err)
		e.releaseClaim(ctx, url)
		return 0, 0, fmt.Errorf("fetch: %w", err)
	}
	e.recordFetch(nil)
	if strings.TrimSpace(res.Text) == "" {
		e.releaseClaim(ctx, url)
		return 0, 0, fmt.Errorf("no article content found")
	}

	parents, searchable, err := e.IndexArticle(ctx, url, res.Text)
	if err != nil {
		e.releaseClaim(ctx, url)
		return 0, 0, fmt.Errorf("index: %w", err)
	}

	if err := e.ledger.MarkIndexed(ctx, url, parents, searchable); err != nil {
		// The chunks are stored; the next run re-indexes over them.
		e.logger.Printf("warn: mark indexed %s: %v", url, err)
	}
	if e.tel != nil {
		e.tel.RecordArticleIndexed(parents, searchable, chunkstore.NamespaceArticles, chunkstore.NamespaceChunks)
	}
	e.logger.Printf("indexed %s (%d parents, %d chunks)", url, parents, searchable)
	return parents, searchable, nil
}

// IndexArticle splits the content and upserts both segment shapes. It
// returns the parent and searchable chunk counts. Content is whitespace
// normalized first so the parent segments concatenate back to exactly
// what reconstruction will serve.
func (e *Engine) IndexArticle(ctx context.Context, url, content string) (int, int, error) {
	content = helpers.NormalizeWhitespace(content)
	if content == "" {
		return 0, 0, fmt.Errorf("empty content")
	}

	parentSegs := e.parents.Split(content)
	placeholder := chunkstore.PlaceholderVector(e.provider.EmbeddingDimensions())
	parentRecs := make([]chunkstore.Record, len(parentSegs))
	for i, seg := range parentSegs {
		parentRecs[i] = chunkstore.Record{
			ID:       chunkstore.ParentID(url, i),
			Values:   placeholder,
			Metadata: map[string]string{chunkstore.MetaText: seg},
		}
	}
	if err := e.batchUpsert(ctx, chunkstore.NamespaceArticles, parentRecs); err != nil {
		return 0, 0, fmt.Errorf("upsert parents: %w", err)
	}

	searchSegs := e.search.Split(content)
	vectors, err := e.provider.Embed(ctx, searchSegs)
	if err != nil {
		return 0, 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(searchSegs) {
		return 0, 0, fmt.Errorf("embed chunks: got %d vectors for %d inputs", len(vectors), len(searchSegs))
	}
	searchRecs := make([]chunkstore.Record, len(searchSegs))
	for i, seg := range searchSegs {
		searchRecs[i] = chunkstore.Record{
			ID:     chunkstore.SearchableID(url, i),
			Values: vectors[i],
			Metadata: map[string]string{
				chunkstore.MetaSourceURL: url,
				chunkstore.MetaChunkText: seg,
			},
		}
	}
	if err := e.batchUpsert(ctx, chunkstore.NamespaceChunks, searchRecs); err != nil {
		return 0, 0, fmt.Errorf("upsert chunks: %w", err)
	}

	return len(parentRecs), len(searchRecs), nil
}

func (e *Engine) batchUpsert(ctx context.Context, namespace string, records []chunkstore.Record) error {
	size := e.cfg.UpsertBatchSize
	if size < 1 || size > chunkstore.MaxUpsertBatch {
		size = chunkstore.MaxUpsertBatch
	}
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		if err := e.chunks.Upsert(ctx, namespace, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// seedLedgerFromStore rebuilds an empty ledger from searchable chunk
// IDs, so an existing vector store keeps its incremental-crawl history
// after the ledger database is recreated.
func (e *Engine) seedLedgerFromStore(ctx context.Context) error {
	st, err := e.ledger.LedgerStats(ctx)
	if err != nil {
		return fmt.Errorf("ledger stats: %w", err)
	}
	if st.Total > 0 {
		return nil
	}
	ids, err := e.chunks.ListIDs(ctx, chunkstore.NamespaceChunks, 0)
	if err != nil {
		e.logger.Printf("warn: could not list stored chunk ids, assuming empty store: %v", err)
		return nil
	}
	derived := chunkstore.DeriveSourceURLs(ids)
	if len(derived) == 0 {
		return nil
	}
	urls := make([]string, 0, len(derived))
	for u := range derived {
		urls = append(urls, u)
	}
	seeded, err := e.ledger.SeedProcessed(ctx, urls)
	if err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	e.logger.Printf("seeded ledger with %d urls derived from the chunk store", seeded)
	return nil
}

// RebuildLedger derives source URLs from stored searchable-chunk IDs
// and marks them indexed, even when the ledger already has rows. Known
// URLs are left untouched. Returns how many URLs were added.
func (e *Engine) RebuildLedger(ctx context.Context) (int64, error) {
	ids, err := e.chunks.ListIDs(ctx, chunkstore.NamespaceChunks, 0)
	if err != nil {
		return 0, fmt.Errorf("list chunk ids: %w", err)
	}
	derived := chunkstore.DeriveSourceURLs(ids)
	if len(derived) == 0 {
		return 0, nil
	}
	urls := make([]string, 0, len(derived))
	for u := range derived {
		urls = append(urls, u)
	}
	seeded, err := e.ledger.SeedProcessed(ctx, urls)
	if err != nil {
		return 0, fmt.Errorf("seed ledger: %w", err)
	}
	e.logger.Printf("rebuilt ledger with %d new urls derived from the chunk store", seeded)
	return seeded, nil
}

func (e *Engine) releaseClaim(ctx context.Context, url string) {
	if err := e.ledger.ReleaseURL(ctx, url); err != nil {
		e.logger.Printf("warn: release claim %s: %v", url, err)
	}
}

func (e *Engine) recordFetch(err error) {
	if e.tel == nil {
		return
	}
	switch {
	case err == nil:
		e.tel.RecordFetch("ok")
	case errors.Is(err, fetch.ErrRobotsDisallowed):
		e.tel.RecordFetch("robots")
	default:
		e.tel.RecordFetch("error")
	}
}
