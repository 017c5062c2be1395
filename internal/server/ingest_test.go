package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/store"
	"github.com/dealscope/dealscope/internal/worker"
)

type fakeCrawlEngine struct {
	stats       ingest.Stats
	runErr      error
	discoveries []ingest.Discovery
	runs        int
}

func (f *fakeCrawlEngine) Run(context.Context) (ingest.Stats, error) {
	f.runs++
	return f.stats, f.runErr
}

func (f *fakeCrawlEngine) Discover(context.Context) ([]ingest.Discovery, error) {
	return f.discoveries, nil
}

type fakeRunEnqueuer struct {
	runID     string
	published int
	err       error
	calls     int
}

func (f *fakeRunEnqueuer) EnqueueRun(context.Context, worker.Discoverer) (string, int, error) {
	f.calls++
	return f.runID, f.published, f.err
}

func TestIngestRunInline(t *testing.T) {
	eng := &fakeCrawlEngine{stats: ingest.Stats{Pages: 2, Discovered: 5, Skipped: 1, Indexed: 4}}
	handler := &IngestHandler{Engine: eng}

	ctx, rec := newJSONContext(http.MethodPost, "/api/ingest/run", `{}`)
	if err := handler.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp IngestRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "inline" || resp.Stats == nil || resp.Stats.Indexed != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Stopped != "" {
		t.Fatalf("expected no stop reason, got %q", resp.Stopped)
	}
	if eng.runs != 1 {
		t.Fatalf("expected one run, got %d", eng.runs)
	}
}

func TestIngestRunReportsBudgetStop(t *testing.T) {
	eng := &fakeCrawlEngine{
		stats:  ingest.Stats{Pages: 1, Discovered: 3, Indexed: 2},
		runErr: budget.ErrExceeded{Kind: "articles", Usage: "2", Limit: "2"},
	}
	handler := &IngestHandler{Engine: eng}

	ctx, rec := newJSONContext(http.MethodPost, "/api/ingest/run", `{}`)
	if err := handler.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp IngestRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stopped == "" || resp.Stats == nil || resp.Stats.Indexed != 2 {
		t.Fatalf("expected partial stats with a stop reason, got %+v", resp)
	}
}

func TestIngestRunEnqueues(t *testing.T) {
	eng := &fakeCrawlEngine{}
	enq := &fakeRunEnqueuer{runID: "run-1", published: 7}
	handler := &IngestHandler{Engine: eng, Enqueuer: enq}

	ctx, rec := newJSONContext(http.MethodPost, "/api/ingest/run", `{"enqueue":true}`)
	if err := handler.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp IngestRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "enqueue" || resp.RunID != "run-1" || resp.Published != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if enq.calls != 1 || eng.runs != 0 {
		t.Fatalf("expected one enqueue and no inline run, got %d/%d", enq.calls, eng.runs)
	}
}

func TestIngestRunEnqueueWithoutQueue(t *testing.T) {
	handler := &IngestHandler{Engine: &fakeCrawlEngine{}}

	ctx, _ := newJSONContext(http.MethodPost, "/api/ingest/run", `{"enqueue":true}`)
	err := handler.run(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 error, got %#v", err)
	}
}

func TestIngestStatusReportsLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &IngestHandler{Engine: &fakeCrawlEngine{}, Store: &store.Store{DB: db}}

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(7, 5))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ingest/status", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	if err := handler.status(ctx); err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp IngestStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ledger.Total != 7 || resp.Ledger.Indexed != 5 {
		t.Fatalf("unexpected ledger: %+v", resp.Ledger)
	}
	if resp.Queue != nil {
		t.Fatalf("expected no queue section without redis, got %+v", resp.Queue)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
