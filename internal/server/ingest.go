package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/queue/streams"
	"github.com/dealscope/dealscope/internal/store"
	"github.com/dealscope/dealscope/internal/worker"
)

// CrawlEngine runs the discovery and ingest pipeline. *ingest.Engine
// satisfies it.
type CrawlEngine interface {
	Run(ctx context.Context) (ingest.Stats, error)
	Discover(ctx context.Context) ([]ingest.Discovery, error)
}

// RunEnqueuer fans a discovery run out to the stream. *worker.Enqueuer
// satisfies it.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, eng worker.Discoverer) (string, int, error)
}

// IngestHandler triggers crawls and reports pipeline status. Enqueuer
// and Redis may be nil when no queue is wired; enqueued runs then
// return 503 and status omits the queue section.
type IngestHandler struct {
	Engine   CrawlEngine
	Enqueuer RunEnqueuer
	Store    *store.Store
	Redis    *redis.Client
	Stream   string
	Group    string
}

func (h *IngestHandler) Register(g *echo.Group, authed echo.MiddlewareFunc) {
	g.POST("/run", h.run, authed)
	g.GET("/status", h.status)
}

// Run
//
//	@Summary		Trigger a crawl
//	@Description	Crawls the listing pages and either ingests inline or enqueues discoveries for workers
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		IngestRunRequest	true	"Run options"
//	@Success		200		{object}	IngestRunResponse
//	@Failure		500		{object}	HTTPError
//	@Failure		503		{object}	HTTPError
//	@Router			/api/ingest/run [post]
func (h *IngestHandler) run(c echo.Context) error {
	var req IngestRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	if req.Enqueue {
		if h.Enqueuer == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "queue not configured")
		}
		runID, published, err := h.Enqueuer.EnqueueRun(ctx, h.Engine)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, IngestRunResponse{Mode: "enqueue", RunID: runID, Published: published})
	}

	stats, err := h.Engine.Run(ctx)
	resp := IngestRunResponse{Mode: "inline", Stats: &CrawlStats{
		Pages:      stats.Pages,
		Discovered: stats.Discovered,
		Skipped:    stats.Skipped,
		Indexed:    stats.Indexed,
		Failed:     stats.Failed,
	}}
	if err != nil {
		// A budget stop is a partial success: report what was indexed.
		if !budget.IsExceeded(err) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resp.Stopped = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// Status
//
//	@Summary	Pipeline status
//	@Tags		ingest
//	@Produce	json
//	@Success	200	{object}	IngestStatusResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/ingest/status [get]
func (h *IngestHandler) status(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := h.Store.LedgerStats(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := IngestStatusResponse{Ledger: LedgerStatus{Total: stats.Total, Indexed: stats.Indexed}}
	if h.Redis != nil {
		if lag, err := streams.GroupLag(ctx, h.Redis, h.Stream, h.Group); err == nil {
			resp.Queue = &QueueStatus{
				Stream:       h.Stream,
				Group:        h.Group,
				Pending:      lag.Pending,
				Lag:          lag.Lag,
				Consumers:    lag.Consumers,
				OldestIdleMs: lag.OldestIdle.Milliseconds(),
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}
