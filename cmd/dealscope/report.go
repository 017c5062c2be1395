package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/internal/agent"
	"github.com/dealscope/dealscope/internal/helpers"
)

func reportCMD() *cobra.Command {
	var cfgPath string
	var articleURL string
	var topic string
	var outPath string
	rep := &cobra.Command{
		Use:   "report",
		Short: "Write a markdown report for one ingested article",
		RunE: func(cmd *cobra.Command, args []string) error {
			if articleURL == "" {
				return fmt.Errorf("--url is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.tel.LogCostReport()

			if topic == "" {
				topic = agent.DefaultReportTopic
			}
			text, err := app.agent(nil).Report(ctx, articleURL, topic)
			if err != nil {
				return err
			}

			out := outPath
			if out == "" {
				out = fmt.Sprintf("report-%s-%s.md",
					helpers.Slugify(topic, 40), time.Now().Format("20060102-150405"))
			}
			if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	rep.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	rep.Flags().StringVar(&articleURL, "url", "", "article URL to report on (required)")
	rep.Flags().StringVar(&topic, "topic", "", "report topic (default \""+agent.DefaultReportTopic+"\")")
	rep.Flags().StringVar(&outPath, "out", "", "output path (default report-<topic>-<timestamp>.md)")

	return rep
}
