package main

import (
	"context"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/agent"
	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/chunkstore"
	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/ingest"
	"github.com/dealscope/dealscope/internal/llm"
	"github.com/dealscope/dealscope/internal/reconstruct"
	"github.com/dealscope/dealscope/internal/runtime"
	"github.com/dealscope/dealscope/internal/store"
	"github.com/dealscope/dealscope/internal/telemetry"
)

// app bundles the services most commands share: config, the ledger
// database, the model provider, the vector store and the budget
// monitor for this invocation.
type app struct {
	cfg      *config.Config
	store    *store.Store
	tel      *telemetry.Telemetry
	provider llm.Provider
	chunks   chunkstore.Store
	monitor  *budget.Monitor
}

func openApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg := config.LoadConfig(cfgPath)
	st, err := runtime.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tel := telemetry.New()
	provider, err := runtime.BuildLLM(cfg, tel)
	if err != nil {
		st.Close()
		return nil, err
	}
	chunks, err := runtime.OpenChunkStore(cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	monitor := budget.NewMonitor(budget.Limits{
		MaxCostUSD:  cfg.Budget.MaxCostUSD,
		MaxTokens:   cfg.Budget.MaxTokens,
		MaxArticles: cfg.Budget.MaxArticles,
	})
	return &app{cfg: cfg, store: st, tel: tel, provider: provider, chunks: chunks, monitor: monitor}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}

func (a *app) engine() (*ingest.Engine, error) {
	fetcher, err := runtime.BuildFetcher(a.cfg.Ingest)
	if err != nil {
		return nil, err
	}
	return ingest.NewEngine(a.cfg.Ingest, fetcher, a.provider, a.chunks, a.store, a.monitor, a.tel)
}

func (a *app) articles() *reconstruct.Service {
	return reconstruct.New(a.chunks, a.cfg.Agent.CacheTTL)
}

// agent builds the question answering pipelines. graphdb may be nil;
// graph-routed questions then degrade to an unavailable notice.
func (a *app) agent(graphdb graph.Store) *agent.Agent {
	return agent.New(a.provider, a.chunks, a.articles(), graphdb, a.tel, agent.Options{
		TopK:            a.cfg.Agent.TopK,
		ScoreThreshold:  a.cfg.Agent.ScoreThreshold,
		ContextArticles: a.cfg.Agent.ContextArticles,
	})
}

func (a *app) graph() (graph.Store, error) {
	return runtime.OpenGraph(a.cfg.Graph)
}
