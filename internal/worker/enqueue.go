package worker

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/queue/streams"
	"github.com/dealscope/dealscope/internal/telemetry"
)

// Discoverer lists article links not yet indexed. *ingest.Engine
// satisfies it.
type Discoverer interface {
	Discover(ctx context.Context) ([]ingest.Discovery, error)
}

// DiscoveryPublisher emits article.discovered events. *streams.Publisher
// satisfies it.
type DiscoveryPublisher interface {
	PublishArticleDiscovered(ctx context.Context, ev streams.ArticleDiscovered, opts ...streams.PublishOption) (string, error)
}

// Enqueuer turns a discovery crawl into events for the worker pool.
type Enqueuer struct {
	logger    *log.Logger
	publisher DiscoveryPublisher
	tel       *telemetry.Telemetry
}

// NewEnqueuer constructs an Enqueuer. tel may be nil.
func NewEnqueuer(logger *log.Logger, pub DiscoveryPublisher, tel *telemetry.Telemetry) *Enqueuer {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Enqueuer{logger: logger, publisher: pub, tel: tel}
}

// EnqueueRun crawls the listings and publishes one article.discovered
// event per new link, all tagged with a fresh run ID. Publish failures
// are logged and skipped; the next run rediscovers those links.
func (e *Enqueuer) EnqueueRun(ctx context.Context, eng Discoverer) (string, int, error) {
	runID := uuid.NewString()
	found, err := eng.Discover(ctx)
	if err != nil {
		return runID, 0, err
	}

	published := 0
	for _, d := range found {
		ev := streams.ArticleDiscovered{RunID: runID, URL: d.URL, ListingPage: d.ListingPage}
		if _, err := e.publisher.PublishArticleDiscovered(ctx, ev); err != nil {
			e.logger.Printf("warn: publish %s: %v", d.URL, err)
			continue
		}
		published++
		if e.tel != nil {
			e.tel.RecordEventPublished(streams.EventArticleDiscovered)
		}
	}
	e.logger.Printf("run %s enqueued %d of %d discovered articles", runID, published, len(found))
	return runID, published, nil
}
