package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/queue/streams"
	"github.com/dealscope/dealscope/internal/runtime"
	"github.com/dealscope/dealscope/internal/worker"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var enqueue bool
	var rebuildLedger bool
	ing := &cobra.Command{
		Use:   "ingest",
		Short: "Crawl listing pages and index new articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.tel.LogCostReport()

			engine, err := app.engine()
			if err != nil {
				return err
			}

			if rebuildLedger {
				added, err := engine.RebuildLedger(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("ledger rebuilt: %d urls added\n", added)
				return nil
			}

			if enqueue {
				rdb, err := runtime.OpenRedis(ctx, app.cfg.Storage.Redis)
				if err != nil {
					return err
				}
				defer rdb.Close()
				registry, err := streams.NewRegistry()
				if err != nil {
					return err
				}
				enq := worker.NewEnqueuer(nil, streams.NewPublisher(rdb, registry), app.tel)
				runID, published, err := enq.EnqueueRun(ctx, engine)
				if err != nil {
					return err
				}
				fmt.Printf("run %s: %d articles enqueued\n", runID, published)
				return nil
			}

			stats, err := engine.Run(ctx)
			if err != nil && !budget.IsExceeded(err) {
				return err
			}
			if err != nil {
				fmt.Printf("stopped: %v\n", err)
			}
			fmt.Printf("pages=%d discovered=%d skipped=%d indexed=%d failed=%d\n",
				stats.Pages, stats.Discovered, stats.Skipped, stats.Indexed, stats.Failed)
			return nil
		},
	}
	ing.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	ing.Flags().BoolVar(&enqueue, "enqueue", false, "publish discoveries to the stream instead of ingesting inline")
	ing.Flags().BoolVar(&rebuildLedger, "rebuild-ledger", false, "seed the ledger from chunk store IDs and exit")

	return ing
}
