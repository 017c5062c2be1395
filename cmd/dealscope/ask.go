package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/internal/agent"
	"github.com/dealscope/dealscope/internal/graph"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var graphOnly bool
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed coverage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			question := strings.Join(args, " ")

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.tel.LogCostReport()

			var graphdb graph.Store
			if g, err := app.graph(); err != nil {
				log.Printf("graph unavailable, graph answers degrade: %v", err)
			} else {
				graphdb = g
				defer g.Close(context.Background())
			}

			ag := app.agent(graphdb)
			var ans agent.Answer
			if graphOnly {
				ans = ag.AnswerGraph(ctx, question)
			} else {
				ans, err = ag.Ask(ctx, question)
				if err != nil {
					return err
				}
			}
			// CLI questions land in the query log as anonymous.
			_ = app.store.LogQuery(ctx, "", question, ans.Route, ans.Text, ans.Duration)

			fmt.Println(ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Println()
				fmt.Println("Sources:")
				for _, s := range ans.Sources {
					fmt.Println("  - " + s)
				}
			}
			fmt.Printf("\n[route=%s confidence=%.2f took=%s]\n",
				ans.Route, ans.Confidence, ans.Duration.Round(time.Millisecond))
			return nil
		},
	}
	ask.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	ask.Flags().BoolVar(&graphOnly, "graph", false, "answer from deal relationships only, skip routing")

	return ask
}
