package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/queue/streams"
	"github.com/dealscope/dealscope/internal/runtime"
	"github.com/dealscope/dealscope/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var consumerName string
	wk := &cobra.Command{
		Use:   "worker",
		Short: "Consume discovered articles and index them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.tel.LogCostReport()

			rdb, err := runtime.OpenRedis(ctx, app.cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			registry, err := streams.NewRegistry()
			if err != nil {
				return err
			}
			if err := streams.EnsureGroup(ctx, rdb, app.cfg.Queue.Stream, app.cfg.Queue.Group); err != nil {
				return err
			}

			name := consumerName
			if name == "" {
				name = app.cfg.Queue.Consumer
			}
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%d", host, os.Getpid())
			}

			engine, err := app.engine()
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
			serveMetrics(app.cfg, app.tel, logger)

			proc := worker.NewProcessor(
				logger,
				app.store,
				engine,
				streams.NewConsumer(rdb, registry, app.cfg.Queue.Group, name),
				streams.NewPublisher(rdb, registry),
				app.tel,
				worker.Options{
					Stream: app.cfg.Queue.Stream,
					Block:  app.cfg.Queue.Block,
					Count:  int64(app.cfg.Queue.Batch),
				},
			)
			if err := proc.Start(ctx); err != nil {
				if budget.IsExceeded(err) {
					logger.Printf("stopped: %v", err)
					return nil
				}
				return err
			}
			return nil
		},
	}
	wk.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	wk.Flags().StringVar(&consumerName, "name", "", "consumer name (default queue.consumer or host-pid)")

	return wk
}
