package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/corpus"
)

// corpusSnapshotName is the exported corpus file kept under the data dir.
const corpusSnapshotName = "scraped_articles.json"

func corpusSnapshotPath(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.File.DataDir, corpusSnapshotName)
}

func corpusCMD() *cobra.Command {
	c := &cobra.Command{Use: "corpus", Short: "Export and inspect the article corpus"}
	c.AddCommand(corpusExportCMD(), corpusListCMD(), corpusSearchCMD())
	return c
}

func corpusExportCMD() *cobra.Command {
	var cfgPath string
	var outPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Rebuild every indexed article into a JSON snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			articles := app.articles()
			articles.Flush()
			snap, err := corpus.Export(ctx, app.store, articles)
			if err != nil {
				return err
			}

			out := outPath
			if out == "" {
				out = corpusSnapshotPath(app.cfg)
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := snap.Save(out); err != nil {
				return err
			}
			fmt.Printf("%d articles -> %s\n", snap.Len(), out)
			return nil
		},
	}
	export.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	export.Flags().StringVar(&outPath, "out", "", "output path (default <data_dir>/"+corpusSnapshotName+")")

	return export
}

func corpusListCMD() *cobra.Command {
	var cfgPath string
	var snapPath string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the articles in a corpus snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(cfgPath, snapPath)
			if err != nil {
				return err
			}
			for _, a := range snap.Articles() {
				fmt.Printf("%8d  %s\n", len(a.Content), a.URL)
			}
			fmt.Printf("%d articles\n", snap.Len())
			return nil
		},
	}
	list.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	list.Flags().StringVar(&snapPath, "snapshot", "", "corpus snapshot path (default <data_dir>/"+corpusSnapshotName+")")

	return list
}

func corpusSearchCMD() *cobra.Command {
	var cfgPath string
	var snapPath string
	var k int
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Keyword search over a corpus snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(cfgPath, snapPath)
			if err != nil {
				return err
			}
			searcher, err := corpus.NewSearcher(snap)
			if err != nil {
				return err
			}
			hits, err := searcher.Search(strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%2d. %.3f  %s\n", h.Rank, h.Score, h.URL)
				fmt.Printf("    %s\n", h.Snippet)
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
			}
			return nil
		},
	}
	search.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches . and ./config)")
	search.Flags().StringVar(&snapPath, "snapshot", "", "corpus snapshot path (default <data_dir>/"+corpusSnapshotName+")")
	search.Flags().IntVar(&k, "k", corpus.DefaultSearchSize, "max hits")

	return search
}

func loadSnapshot(cfgPath, snapPath string) (*corpus.Corpus, error) {
	if snapPath == "" {
		snapPath = corpusSnapshotPath(config.LoadConfig(cfgPath))
	}
	return corpus.Load(snapPath)
}
