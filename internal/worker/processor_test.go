package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/queue/streams"
)

type fakeSource struct {
	batches [][]streams.Message
	claimed []streams.Message
	acked   []string
	cancel  context.CancelFunc
}

func (f *fakeSource) Read(_ context.Context, _ string, _ ...streams.ConsumerOption) ([]streams.Message, error) {
	if len(f.batches) == 0 {
		if f.cancel != nil {
			f.cancel()
		}
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) Ack(_ context.Context, _ string, ids ...string) error {
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeSource) AutoClaim(_ context.Context, _ string, _ time.Duration, _ string, _ int64) ([]streams.Message, string, error) {
	msgs := f.claimed
	f.claimed = nil
	return msgs, "0-0", nil
}

type fakeIngestor struct {
	calls      []string
	errs       map[string]error
	parents    int
	searchable int
}

func (f *fakeIngestor) IngestURL(_ context.Context, url string) (int, int, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return 0, 0, err
	}
	return f.parents, f.searchable, nil
}

type fakeClaims struct {
	seen map[string]bool
	err  error
}

func (f *fakeClaims) ClaimIdempotency(_ context.Context, scope, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	k := scope + ":" + key
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

type fakeIndexedPublisher struct {
	events []streams.ArticleIndexed
	err    error
}

func (f *fakeIndexedPublisher) PublishArticleIndexed(_ context.Context, ev streams.ArticleIndexed, _ ...streams.PublishOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, ev)
	return "0-1", nil
}

func discoveryMessage(t *testing.T, id, eventID, url string) streams.Message {
	t.Helper()
	data, err := json.Marshal(streams.ArticleDiscovered{
		RunID:       "run-1",
		URL:         url,
		ListingPage: "https://news.example/deals/",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return streams.Message{ID: id, Envelope: streams.Envelope{
		EventID:        eventID,
		EventType:      streams.EventArticleDiscovered,
		OccurredAt:     time.Now().UTC(),
		PayloadVersion: streams.SchemaVersion,
		Data:           data,
	}}
}

func newTestProcessor(src *fakeSource, ing *fakeIngestor, pub *fakeIndexedPublisher) *Processor {
	return NewProcessor(log.New(io.Discard, "", 0), &fakeClaims{}, ing, src, pub, nil, Options{ClaimIdle: -1})
}

func TestProcessorIngestsDiscoveredArticles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	urlA := "https://news.example/deals/acme-buys-globex/"
	urlB := "https://news.example/deals/initech-merges/"
	src := &fakeSource{cancel: cancel, batches: [][]streams.Message{{
		discoveryMessage(t, "1-0", "evt-a", urlA),
		discoveryMessage(t, "2-0", "evt-b", urlB),
	}}}
	ing := &fakeIngestor{parents: 2, searchable: 9}
	pub := &fakeIndexedPublisher{}

	if err := newTestProcessor(src, ing, pub).Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(ing.calls) != 2 || ing.calls[0] != urlA || ing.calls[1] != urlB {
		t.Fatalf("ingested %v", ing.calls)
	}
	if len(src.acked) != 2 {
		t.Fatalf("acked %v, want both messages", src.acked)
	}
	if len(pub.events) != 2 {
		t.Fatalf("confirmations = %d, want 2", len(pub.events))
	}
	if ev := pub.events[0]; ev.URL != urlA || ev.ParentChunks != 2 || ev.SearchableChunks != 9 || ev.RunID != "run-1" {
		t.Fatalf("confirmation = %+v", ev)
	}
}

func TestProcessorSkipsDuplicateEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "https://news.example/deals/acme-buys-globex/"
	src := &fakeSource{cancel: cancel, batches: [][]streams.Message{{
		discoveryMessage(t, "1-0", "evt-a", url),
		discoveryMessage(t, "1-1", "evt-a", url),
	}}}
	ing := &fakeIngestor{parents: 1, searchable: 3}

	if err := newTestProcessor(src, ing, nil).Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(ing.calls) != 1 {
		t.Fatalf("replayed event must not be ingested twice, calls = %v", ing.calls)
	}
	if len(src.acked) != 2 {
		t.Fatalf("duplicates still need an ack, acked %v", src.acked)
	}
}

func TestProcessorTreatsClaimedURLAsDuplicate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "https://news.example/deals/acme-buys-globex/"
	src := &fakeSource{cancel: cancel, batches: [][]streams.Message{{
		discoveryMessage(t, "1-0", "evt-a", url),
	}}}
	ing := &fakeIngestor{errs: map[string]error{url: ingest.ErrAlreadyClaimed}}
	pub := &fakeIndexedPublisher{}

	if err := newTestProcessor(src, ing, pub).Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("claimed url must not publish a confirmation, got %+v", pub.events)
	}
	if len(src.acked) != 1 {
		t.Fatalf("acked %v, want the message acked", src.acked)
	}
}

func TestProcessorStopsOnBudgetExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "https://news.example/deals/acme-buys-globex/"
	src := &fakeSource{cancel: cancel, batches: [][]streams.Message{{
		discoveryMessage(t, "1-0", "evt-a", url),
	}}}
	ing := &fakeIngestor{errs: map[string]error{
		url: budget.ErrExceeded{Kind: "articles", Usage: "2", Limit: "1"},
	}}

	err := newTestProcessor(src, ing, nil).Start(ctx)
	if !budget.IsExceeded(err) {
		t.Fatalf("expected budget stop, got %v", err)
	}
	if len(src.acked) != 0 {
		t.Fatalf("budget-stopped message must stay pending, acked %v", src.acked)
	}
}

func TestProcessorAcksPoisonPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poison := streams.Message{ID: "1-0", Envelope: streams.Envelope{
		EventID:        "evt-bad",
		EventType:      streams.EventArticleDiscovered,
		OccurredAt:     time.Now().UTC(),
		PayloadVersion: streams.SchemaVersion,
		Data:           json.RawMessage(`{"url": 42}`),
	}}
	src := &fakeSource{cancel: cancel, batches: [][]streams.Message{{poison}}}
	ing := &fakeIngestor{}

	if err := newTestProcessor(src, ing, nil).Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(ing.calls) != 0 {
		t.Fatalf("poison payload must not reach the engine, calls = %v", ing.calls)
	}
	if len(src.acked) != 1 {
		t.Fatalf("poison payload must be acked so it cannot wedge the group, acked %v", src.acked)
	}
}

func TestProcessorDrainsReclaimedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "https://news.example/deals/acme-buys-globex/"
	src := &fakeSource{cancel: cancel, claimed: []streams.Message{
		discoveryMessage(t, "1-0", "evt-a", url),
	}}
	ing := &fakeIngestor{parents: 1, searchable: 2}
	proc := NewProcessor(log.New(io.Discard, "", 0), &fakeClaims{}, ing, src, nil, nil, Options{})

	if err := proc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(ing.calls) != 1 || ing.calls[0] != url {
		t.Fatalf("reclaimed message must be ingested, calls = %v", ing.calls)
	}
	if len(src.acked) != 1 {
		t.Fatalf("acked %v, want the reclaimed message acked", src.acked)
	}
}

type fakeDiscoverer struct {
	found []ingest.Discovery
	err   error
}

func (f *fakeDiscoverer) Discover(context.Context) ([]ingest.Discovery, error) {
	return f.found, f.err
}

type fakeDiscoveryPublisher struct {
	events []streams.ArticleDiscovered
	errOn  string
}

func (f *fakeDiscoveryPublisher) PublishArticleDiscovered(_ context.Context, ev streams.ArticleDiscovered, _ ...streams.PublishOption) (string, error) {
	if ev.URL == f.errOn {
		return "", fmt.Errorf("redis down")
	}
	f.events = append(f.events, ev)
	return "0-1", nil
}

func TestEnqueueRunPublishesDiscoveries(t *testing.T) {
	listing := "https://news.example/deals/"
	disc := &fakeDiscoverer{found: []ingest.Discovery{
		{URL: "https://news.example/deals/a/", ListingPage: listing},
		{URL: "https://news.example/deals/b/", ListingPage: listing},
		{URL: "https://news.example/deals/c/", ListingPage: listing},
	}}
	pub := &fakeDiscoveryPublisher{errOn: "https://news.example/deals/b/"}
	enq := NewEnqueuer(log.New(io.Discard, "", 0), pub, nil)

	runID, published, err := enq.EnqueueRun(context.Background(), disc)
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}
	if published != 2 || len(pub.events) != 2 {
		t.Fatalf("published = %d, events = %d, want 2 each", published, len(pub.events))
	}
	for _, ev := range pub.events {
		if ev.RunID != runID {
			t.Fatalf("event run id %q, want %q", ev.RunID, runID)
		}
		if ev.ListingPage != listing {
			t.Fatalf("event listing page %q", ev.ListingPage)
		}
	}
}

func TestEnqueueRunSurfacesDiscoveryFailure(t *testing.T) {
	disc := &fakeDiscoverer{err: fmt.Errorf("listing unreachable")}
	enq := NewEnqueuer(log.New(io.Discard, "", 0), &fakeDiscoveryPublisher{}, nil)

	if _, _, err := enq.EnqueueRun(context.Background(), disc); err == nil {
		t.Fatal("expected discovery failure to surface")
	}
}
