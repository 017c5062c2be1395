// Package worker consumes article.discovered events and runs the ingest
// pipeline for each URL, so crawling and indexing can scale out past a
// single process. Confirmations go back out as article.indexed events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/queue/streams"
	"github.com/dealscope/dealscope/internal/telemetry"
)

// DefaultGroup is the consumer group ingest workers join.
const DefaultGroup = "dealscope-indexers"

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
}

// Ingestor is the slice of the ingest engine the worker drives.
type Ingestor interface {
	IngestURL(ctx context.Context, url string) (int, int, error)
}

// EventSource reads and acknowledges stream messages. *streams.Consumer
// satisfies it.
type EventSource interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// IndexedPublisher emits article.indexed confirmations. *streams.Publisher
// satisfies it.
type IndexedPublisher interface {
	PublishArticleIndexed(ctx context.Context, ev streams.ArticleIndexed, opts ...streams.PublishOption) (string, error)
}

// Options tunes the consume loop. Zero values pick the defaults.
type Options struct {
	Stream    string
	Block     time.Duration
	Count     int64
	ClaimIdle time.Duration
}

func (o *Options) normalize() {
	if o.Stream == "" {
		o.Stream = streams.StreamArticleDiscovered
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.Count <= 0 {
		o.Count = 16
	}
	if o.ClaimIdle == 0 {
		o.ClaimIdle = 5 * time.Minute
	}
}

// Processor drives ingestion by consuming article.discovered events.
type Processor struct {
	logger    *log.Logger
	store     StoreAPI
	engine    Ingestor
	consumer  EventSource
	publisher IndexedPublisher
	tel       *telemetry.Telemetry
	opts      Options
}

// NewProcessor constructs a Processor. publisher and tel may be nil;
// without a publisher no article.indexed confirmations are emitted.
func NewProcessor(logger *log.Logger, st StoreAPI, eng Ingestor, cons EventSource, pub IndexedPublisher, tel *telemetry.Telemetry, opts Options) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	opts.normalize()
	return &Processor{
		logger:    logger,
		store:     st,
		engine:    eng,
		consumer:  cons,
		publisher: pub,
		tel:       tel,
		opts:      opts,
	}
}

// Start blocks, continuously processing discovery events until the
// context is cancelled or the run budget is exhausted. Pending messages
// a crashed worker left behind are reclaimed first.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker starting, consuming stream %s", p.opts.Stream)
	if msgs := p.reclaimAbandoned(ctx); len(msgs) > 0 {
		p.logger.Printf("reclaimed %d pending messages", len(msgs))
		if err := p.drain(ctx, msgs); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.opts.Stream, streams.WithBlock(p.opts.Block), streams.WithCount(p.opts.Count))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if err := p.drain(ctx, msgs); err != nil {
			return err
		}
	}
}

// drain handles one batch. A budget stop leaves the current message
// unacked and aborts; every other failure is logged, counted and acked
// so one bad article cannot wedge the group.
func (p *Processor) drain(ctx context.Context, msgs []streams.Message) error {
	for _, msg := range msgs {
		outcome, err := p.handleDiscovered(ctx, msg)
		if p.tel != nil {
			p.tel.RecordEventProcessed(msg.Envelope.EventType, outcome)
		}
		if budget.IsExceeded(err) {
			p.logger.Printf("stopping worker: %v", err)
			return err
		}
		if err != nil {
			p.logger.Printf("error handling message %s: %v", msg.ID, err)
		}
		if err := p.consumer.Ack(ctx, p.opts.Stream, msg.ID); err != nil {
			p.logger.Printf("warn: ack message %s: %v", msg.ID, err)
		}
	}
	return nil
}

func (p *Processor) handleDiscovered(ctx context.Context, msg streams.Message) (string, error) {
	claimed, err := p.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return "error", fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		p.logger.Printf("skip event %s, already processed", msg.Envelope.EventID)
		return "duplicate", nil
	}

	var payload streams.ArticleDiscovered
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil {
		return "error", fmt.Errorf("unmarshal discovery payload: %w", err)
	}

	parents, searchable, err := p.engine.IngestURL(ctx, payload.URL)
	switch {
	case errors.Is(err, ingest.ErrAlreadyClaimed):
		p.logger.Printf("skip %s, another worker holds it", payload.URL)
		return "duplicate", nil
	case budget.IsExceeded(err):
		// The url is not lost: it stays out of the ledger, so the
		// next discovery run re-publishes it.
		return "error", err
	case err != nil:
		return "error", fmt.Errorf("ingest %s: %w", payload.URL, err)
	}

	if p.publisher != nil {
		confirmation := streams.ArticleIndexed{
			RunID:            payload.RunID,
			URL:              payload.URL,
			ParentChunks:     parents,
			SearchableChunks: searchable,
		}
		if _, err := p.publisher.PublishArticleIndexed(ctx, confirmation); err != nil {
			p.logger.Printf("warn: publish %s for %s: %v", streams.EventArticleIndexed, payload.URL, err)
		} else if p.tel != nil {
			p.tel.RecordEventPublished(streams.EventArticleIndexed)
		}
	}
	return "ok", nil
}

// reclaimAbandoned sweeps the pending entries list for messages whose
// consumer died mid-flight and claims them for this worker.
func (p *Processor) reclaimAbandoned(ctx context.Context) []streams.Message {
	if p.opts.ClaimIdle < 0 {
		return nil
	}
	var out []streams.Message
	start := "0-0"
	for {
		msgs, next, err := p.consumer.AutoClaim(ctx, p.opts.Stream, p.opts.ClaimIdle, start, p.opts.Count)
		if err != nil {
			p.logger.Printf("warn: reclaim pending: %v", err)
			return out
		}
		out = append(out, msgs...)
		if next == "0-0" || next == "" || next == start {
			return out
		}
		start = next
	}
}
