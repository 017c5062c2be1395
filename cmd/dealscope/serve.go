package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/internal/corpus"
	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/queue/streams"
	"github.com/dealscope/dealscope/internal/runtime"
	"github.com/dealscope/dealscope/internal/server"
	"github.com/dealscope/dealscope/internal/worker"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := server.Migrate("file://migrations", app.cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
				log.Printf("migrate: %v", err)
			}

			var graphdb graph.Store
			if g, err := app.graph(); err != nil {
				log.Printf("graph unavailable, graph answers degrade: %v", err)
			} else {
				graphdb = g
				defer g.Close(context.Background())
			}

			engine, err := app.engine()
			if err != nil {
				return err
			}

			deps := server.Deps{
				Store:     app.store,
				Agent:     app.agent(graphdb),
				Engine:    engine,
				Telemetry: app.tel,
			}

			if rdb, err := runtime.OpenRedis(ctx, app.cfg.Storage.Redis); err != nil {
				log.Printf("redis unavailable, inline ingest only: %v", err)
			} else {
				defer rdb.Close()
				registry, err := streams.NewRegistry()
				if err != nil {
					return err
				}
				deps.Redis = rdb
				deps.Enqueuer = worker.NewEnqueuer(nil, streams.NewPublisher(rdb, registry), app.tel)
			}

			if snap, err := corpus.Load(corpusSnapshotPath(app.cfg)); err != nil {
				log.Printf("corpus snapshot unavailable: %v", err)
			} else {
				searcher, err := corpus.NewSearcher(snap)
				if err != nil {
					return err
				}
				deps.Corpus = snap
				deps.Searcher = searcher
			}

			srv := server.New(app.cfg, deps)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")

	return serve
}
