package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/agent"
	"github.com/dealscope/dealscope/internal/corpus"
	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/runtime"
	"github.com/dealscope/dealscope/internal/store"
	"github.com/dealscope/dealscope/internal/telemetry"
	"github.com/dealscope/dealscope/internal/worker"
)

// Deps carries the wired services the HTTP API exposes. Store, Agent
// and Engine are required; the rest degrade gracefully when nil.
type Deps struct {
	Store     *store.Store
	Agent     *agent.Agent
	Engine    *ingest.Engine
	Enqueuer  *worker.Enqueuer
	Redis     *redis.Client
	Corpus    *corpus.Corpus
	Searcher  *corpus.Searcher
	Telemetry *telemetry.Telemetry
}

// Server is the HTTP API over the research pipeline.
type Server struct {
	echo   *echo.Echo
	logger *log.Logger
	addr   string
}

// New builds the echo app and registers every route.
func New(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	registerDocs(e)
	if deps.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Telemetry.Handler()))
	} else {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	secret := []byte(cfg.Server.JWTSecret)
	authed := runtime.EchoAuthMiddleware(secret)

	api := e.Group("/api")
	(&AuthHandler{Store: deps.Store, Secret: secret}).Register(api.Group("/auth"))

	ah := &AskHandler{Agent: deps.Agent, Store: deps.Store}
	ah.Register(api, authed)

	ih := &IngestHandler{
		Engine: deps.Engine,
		Store:  deps.Store,
		Redis:  deps.Redis,
		Stream: cfg.Queue.Stream,
		Group:  cfg.Queue.Group,
	}
	if deps.Enqueuer != nil {
		ih.Enqueuer = deps.Enqueuer
	}
	ih.Register(api.Group("/ingest"), authed)

	(&ReportHandler{Agent: deps.Agent}).Register(api, authed)
	(&CorpusHandler{Corpus: deps.Corpus, Searcher: deps.Searcher}).Register(api.Group("/corpus"))

	return &Server{echo: e, logger: baseLogger, addr: cfg.Server.Address}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.addr)
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
