// Package kg builds the deal knowledge graph. A Runner walks every indexed
// article, has the model extract entities and relationships, filters them
// against the graph schema and merges the survivors into Neo4j. Progress is
// checkpointed per article so an interrupted pass resumes where it stopped.
package kg

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/store"
	"github.com/dealscope/dealscope/internal/telemetry"
)

// CheckpointJob keys the extraction pass in job_checkpoints.
const CheckpointJob = "graph-extract"

// ArticleSource yields full article text by URL. The reconstruction
// service implements it; an empty string means the article is gone.
type ArticleSource interface {
	Article(ctx context.Context, url string) (string, error)
}

// Stats summarises one extraction pass.
type Stats struct {
	Articles      int
	Skipped       int
	Entities      int
	Relationships int
}

// Runner drives extraction over the ingest ledger.
type Runner struct {
	ledger    *store.Store
	graphdb   graph.Store
	extractor *Extractor
	articles  ArticleSource
	monitor   *budget.Monitor
	tel       *telemetry.Telemetry
	logger    *log.Logger
}

// NewRunner wires the extraction pass. tel may be nil.
func NewRunner(ledger *store.Store, graphdb graph.Store, extractor *Extractor, articles ArticleSource, monitor *budget.Monitor, tel *telemetry.Telemetry) *Runner {
	return &Runner{
		ledger:    ledger,
		graphdb:   graphdb,
		extractor: extractor,
		articles:  articles,
		monitor:   monitor,
		tel:       tel,
		logger:    log.New(log.Writer(), "[KG] ", log.LstdFlags),
	}
}

// Run extracts graph facts from every indexed article. With resume set it
// continues from the last running checkpoint; positions index the sorted
// URL list, so a resume is exact only while the indexed set is unchanged.
// Merge operations are idempotent, so replaying an article is harmless.
//
// Budget violations and graph write failures abort the pass with the
// checkpoint pointing at the unfinished article. Extraction failures on a
// single article are logged and skipped.
func (r *Runner) Run(ctx context.Context, resume bool) (Stats, error) {
	indexed, err := r.ledger.ProcessedURLs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load indexed urls: %w", err)
	}
	urls := make([]string, 0, len(indexed))
	for url := range indexed {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	start := 0
	if resume {
		if start, err = r.ResumePosition(ctx, len(urls)); err != nil {
			return Stats{}, err
		}
	}
	return r.run(ctx, urls, start)
}

// RunOver extracts from an explicit article list, starting at the given
// offset. The corpus-file build path uses it: list order is preserved and
// checkpoint positions index this list.
func (r *Runner) RunOver(ctx context.Context, urls []string, start int) (Stats, error) {
	if start < 0 || start > len(urls) {
		return Stats{}, fmt.Errorf("start %d out of range, have %d articles", start, len(urls))
	}
	return r.run(ctx, urls, start)
}

// ResumePosition returns where an interrupted pass over total articles
// stopped, or zero when there is nothing to resume.
func (r *Runner) ResumePosition(ctx context.Context, total int) (int, error) {
	cp, ok, err := r.ledger.GetCheckpoint(ctx, CheckpointJob)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok && cp.Status == store.CheckpointStatusRunning && cp.Position > 0 && cp.Position <= total {
		r.logger.Printf("resuming at article %d of %d", cp.Position, total)
		return cp.Position, nil
	}
	return 0, nil
}

func (r *Runner) run(ctx context.Context, urls []string, start int) (Stats, error) {
	var stats Stats
	if len(urls) == 0 {
		r.logger.Printf("no articles, nothing to extract")
		return stats, nil
	}

	for i := start; i < len(urls); i++ {
		url := urls[i]
		if err := ctx.Err(); err != nil {
			r.advance(ctx, i, url)
			return stats, err
		}
		if err := r.monitor.AddArticle(); err != nil {
			r.advance(ctx, i, url)
			return stats, err
		}

		text, err := r.articles.Article(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				r.advance(ctx, i, url)
				return stats, ctx.Err()
			}
			r.logger.Printf("warn: reconstruct %s: %v", url, err)
			stats.Skipped++
			r.advance(ctx, i+1, url)
			continue
		}
		if text == "" {
			stats.Skipped++
			r.advance(ctx, i+1, url)
			continue
		}

		ext, usage, err := r.extractor.Extract(ctx, text)
		if budgetErr := r.monitor.Add(usage.CostUSD, int64(usage.PromptTokens+usage.CompletionTokens)); budgetErr != nil {
			r.advance(ctx, i, url)
			return stats, budgetErr
		}
		if err != nil {
			if ctx.Err() != nil {
				r.advance(ctx, i, url)
				return stats, ctx.Err()
			}
			r.logger.Printf("warn: extract %s: %v", url, err)
			stats.Skipped++
			r.advance(ctx, i+1, url)
			continue
		}

		entities, rels := r.extractor.Resolve(ext)
		if len(entities) > 0 {
			if err := r.graphdb.MergeEntities(ctx, entities); err != nil {
				r.advance(ctx, i, url)
				return stats, fmt.Errorf("merge entities for %s: %w", url, err)
			}
		}
		if len(rels) > 0 {
			if err := r.graphdb.MergeRelationships(ctx, rels); err != nil {
				r.advance(ctx, i, url)
				return stats, fmt.Errorf("merge relationships for %s: %w", url, err)
			}
		}
		if r.tel != nil {
			r.tel.RecordGraphWrites(len(entities) + len(rels))
		}

		stats.Articles++
		stats.Entities += len(entities)
		stats.Relationships += len(rels)
		r.advance(ctx, i+1, url)
	}

	if err := r.ledger.UpsertCheckpoint(ctx, store.Checkpoint{
		Job:      CheckpointJob,
		Status:   store.CheckpointStatusCompleted,
		Position: len(urls),
	}); err != nil {
		r.logger.Printf("warn: finalize checkpoint: %v", err)
	}

	costUSD, tokens, _, elapsed := r.monitor.Usage()
	r.logger.Printf("extraction pass done: articles=%d skipped=%d entities=%d relationships=%d tokens=%d cost=$%.4f elapsed=%s",
		stats.Articles, stats.Skipped, stats.Entities, stats.Relationships, tokens, costUSD, elapsed.Round(time.Millisecond))
	return stats, nil
}

// advance persists progress. A lost write only re-extracts one article on
// the next resume, so failures are logged rather than fatal.
func (r *Runner) advance(ctx context.Context, position int, lastURL string) {
	err := r.ledger.UpsertCheckpoint(ctx, store.Checkpoint{
		Job:      CheckpointJob,
		Status:   store.CheckpointStatusRunning,
		Position: position,
		Payload:  map[string]interface{}{"last_url": lastURL},
	})
	if err != nil {
		r.logger.Printf("warn: save checkpoint at %d: %v", position, err)
	}
}
