package telemetry

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealscope/dealscope/internal/llm"
)

// Telemetry aggregates prometheus metrics and a running cost ledger for
// every LLM call, ingest step and answered question. A single instance
// is shared by the engine, the agent and the HTTP server; all methods
// are safe for concurrent use.
type Telemetry struct {
	logger   *log.Logger
	registry *prometheus.Registry

	llmRequests  *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec
	llmCost      *prometheus.CounterVec
	articles     prometheus.Counter
	chunkUpserts *prometheus.CounterVec
	questions    *prometheus.CounterVec
	questionTime *prometheus.HistogramVec
	fetches      *prometheus.CounterVec
	graphWrites  prometheus.Counter
	published    *prometheus.CounterVec
	processed    *prometheus.CounterVec

	mu    sync.RWMutex
	costs costLedger
}

type costLedger struct {
	TotalCostUSD   float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

// CostSummary is a point-in-time copy of accumulated spend.
type CostSummary struct {
	TotalCostUSD   float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

// New builds a Telemetry with its own prometheus registry so tests and
// multiple instances never fight over the default registerer.
func New() *Telemetry {
	t := &Telemetry{
		logger:   log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		registry: prometheus.NewRegistry(),
		costs: costLedger{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
	}

	t.llmRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "llm_requests_total",
		Help:      "LLM API calls by operation kind and model.",
	}, []string{"kind", "model"})
	t.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "llm_tokens_total",
		Help:      "Tokens consumed by direction and model.",
	}, []string{"direction", "model"})
	t.llmCost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "llm_cost_usd_total",
		Help:      "Estimated LLM spend in USD by model.",
	}, []string{"model"})
	t.articles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "articles_indexed_total",
		Help:      "Articles fully chunked and upserted.",
	})
	t.chunkUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "chunks_upserted_total",
		Help:      "Vector records upserted by namespace.",
	}, []string{"namespace"})
	t.questions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "questions_total",
		Help:      "Questions answered by route and outcome.",
	}, []string{"route", "outcome"})
	t.questionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dealscope",
		Name:      "question_duration_seconds",
		Help:      "End to end answer latency by route.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"route"})
	t.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "page_fetches_total",
		Help:      "Article page fetches by result.",
	}, []string{"result"})
	t.graphWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "graph_writes_total",
		Help:      "Entity and relationship merges applied to the graph.",
	})
	t.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "events_published_total",
		Help:      "Events written to the streams by type.",
	}, []string{"event"})
	t.processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealscope",
		Name:      "events_processed_total",
		Help:      "Events handled by workers by type and outcome.",
	}, []string{"event", "outcome"})

	t.registry.MustRegister(
		t.llmRequests, t.llmTokens, t.llmCost,
		t.articles, t.chunkUpserts,
		t.questions, t.questionTime,
		t.fetches, t.graphWrites,
		t.published, t.processed,
	)
	return t
}

// Registry exposes the underlying registry for promhttp mounting.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// Handler returns the /metrics handler for this instance.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordLLMUsage satisfies llm.UsageRecorder.
func (t *Telemetry) RecordLLMUsage(kind, model string, usage llm.Usage) {
	t.llmRequests.WithLabelValues(kind, model).Inc()
	t.llmTokens.WithLabelValues("prompt", model).Add(float64(usage.PromptTokens))
	t.llmTokens.WithLabelValues("completion", model).Add(float64(usage.CompletionTokens))
	t.llmCost.WithLabelValues(model).Add(usage.CostUSD)

	t.mu.Lock()
	t.costs.TotalCostUSD += usage.CostUSD
	t.costs.TotalTokens += int64(usage.PromptTokens + usage.CompletionTokens)
	t.costs.ModelCosts[model] += usage.CostUSD
	t.costs.OperationCosts[kind] += usage.CostUSD
	t.mu.Unlock()
}

// RecordArticleIndexed counts one fully processed article and its chunk volumes.
func (t *Telemetry) RecordArticleIndexed(parentChunks, searchableChunks int, namespaceParents, namespaceChunks string) {
	t.articles.Inc()
	t.chunkUpserts.WithLabelValues(namespaceParents).Add(float64(parentChunks))
	t.chunkUpserts.WithLabelValues(namespaceChunks).Add(float64(searchableChunks))
}

// RecordQuestion counts one answered (or failed) question.
func (t *Telemetry) RecordQuestion(route string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.questions.WithLabelValues(route, outcome).Inc()
	t.questionTime.WithLabelValues(route).Observe(d.Seconds())
}

// RecordFetch counts one page fetch attempt. Result is a short token
// such as "ok", "error" or "skipped".
func (t *Telemetry) RecordFetch(result string) {
	t.fetches.WithLabelValues(result).Inc()
}

// RecordGraphWrites counts merges applied to the knowledge graph.
func (t *Telemetry) RecordGraphWrites(n int) {
	t.graphWrites.Add(float64(n))
}

// RecordEventPublished counts one event written to a stream.
func (t *Telemetry) RecordEventPublished(event string) {
	t.published.WithLabelValues(event).Inc()
}

// RecordEventProcessed counts one consumed event. Outcome is "ok",
// "error" or "duplicate".
func (t *Telemetry) RecordEventProcessed(event, outcome string) {
	t.processed.WithLabelValues(event, outcome).Inc()
}

// Costs returns a copy of the accumulated spend ledger.
func (t *Telemetry) Costs() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := CostSummary{
		TotalCostUSD:   t.costs.TotalCostUSD,
		TotalTokens:    t.costs.TotalTokens,
		ModelCosts:     make(map[string]float64, len(t.costs.ModelCosts)),
		OperationCosts: make(map[string]float64, len(t.costs.OperationCosts)),
	}
	for k, v := range t.costs.ModelCosts {
		out.ModelCosts[k] = v
	}
	for k, v := range t.costs.OperationCosts {
		out.OperationCosts[k] = v
	}
	return out
}

// LogCostReport writes the spend ledger to the telemetry logger. Called
// at the end of long runs so operators see totals without scraping.
func (t *Telemetry) LogCostReport() {
	s := t.Costs()
	t.logger.Printf("cost report: total=$%.4f tokens=%d", s.TotalCostUSD, s.TotalTokens)
	for model, cost := range s.ModelCosts {
		t.logger.Printf("  model %s: $%.4f", model, cost)
	}
	for op, cost := range s.OperationCosts {
		t.logger.Printf("  operation %s: $%.4f", op, cost)
	}
}
