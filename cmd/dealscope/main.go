package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "dealscope", Short: "M&A news research pipeline"}

	root.AddCommand(
		serveCMD(),
		workerCMD(),
		ingestCMD(),
		askCMD(),
		reportCMD(),
		graphCMD(),
		corpusCMD(),
		migrateCMD(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveMetrics exposes the prometheus registry for headless commands.
// The API server serves /metrics on its own listener instead.
func serveMetrics(cfg *config.Config, tel *telemetry.Telemetry, logger *log.Logger) {
	if tel == nil || !cfg.Telemetry.Enabled || cfg.Telemetry.MetricsPort <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler())
	addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()
}
