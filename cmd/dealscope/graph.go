package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/corpus"
	"github.com/dealscope/dealscope/internal/kg"
)

func graphCMD() *cobra.Command {
	g := &cobra.Command{Use: "graph", Short: "Build and query the deal knowledge graph"}
	g.AddCommand(graphBuildCMD(), graphQueryCMD())
	return g
}

func graphBuildCMD() *cobra.Command {
	var cfgPath string
	var corpusPath string
	var start int
	var resume bool
	build := &cobra.Command{
		Use:   "build",
		Short: "Extract entities and relationships into the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.tel.LogCostReport()

			graphdb, err := app.graph()
			if err != nil {
				return err
			}
			defer graphdb.Close(context.Background())

			extractor, err := kg.NewExtractor(app.provider)
			if err != nil {
				return err
			}

			// Articles come from a corpus snapshot when given, else they
			// are reconstructed from the chunk store.
			var articles kg.ArticleSource
			var urls []string
			if corpusPath != "" {
				snap, err := corpus.Load(corpusPath)
				if err != nil {
					return err
				}
				articles = snap
				urls = snap.URLs()
			} else {
				processed, err := app.store.ProcessedURLs(ctx)
				if err != nil {
					return err
				}
				for u := range processed {
					urls = append(urls, u)
				}
				sort.Strings(urls)
				articles = app.articles()
			}

			runner := kg.NewRunner(app.store, graphdb, extractor, articles, app.monitor, app.tel)
			if resume {
				start, err = runner.ResumePosition(ctx, len(urls))
				if err != nil {
					return err
				}
			}

			stats, err := runner.RunOver(ctx, urls, start)
			if err != nil && !budget.IsExceeded(err) {
				return err
			}
			if err != nil {
				fmt.Printf("stopped: %v\n", err)
			}
			fmt.Printf("articles=%d skipped=%d entities=%d relationships=%d\n",
				stats.Articles, stats.Skipped, stats.Entities, stats.Relationships)
			return nil
		},
	}
	build.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	build.Flags().StringVar(&corpusPath, "corpus", "", "read articles from a corpus snapshot instead of the chunk store")
	build.Flags().IntVar(&start, "start", 0, "start position in the sorted article list")
	build.Flags().BoolVar(&resume, "resume", false, "continue from the last checkpoint")

	return build
}

func graphQueryCMD() *cobra.Command {
	var cfgPath string
	query := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question from deal relationships",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.tel.LogCostReport()

			graphdb, err := app.graph()
			if err != nil {
				return err
			}
			defer graphdb.Close(context.Background())

			ans := app.agent(graphdb).AnswerGraph(ctx, strings.Join(args, " "))
			fmt.Println(ans.Text)
			fmt.Printf("\n[route=%s took=%s]\n", ans.Route, ans.Duration.Round(time.Millisecond))
			return nil
		},
	}
	query.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")

	return query
}
