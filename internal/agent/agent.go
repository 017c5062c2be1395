// Package agent answers user questions over the indexed corpus. A model
// based router sends each question down one of two pipelines: semantic
// vector search with grounded generation, or a generated read-only Cypher
// query against the knowledge graph. It also produces single-article
// reports.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dealscope/dealscope/internal/chunkstore"
	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/llm"
	"github.com/dealscope/dealscope/internal/reconstruct"
	"github.com/dealscope/dealscope/internal/telemetry"
)

// Route labels. Unrecognized router output falls back to RouteSemantic,
// the always-available path.
const (
	RouteSemantic = "semantic"
	RouteGraph    = "graph"
)

// Options tunes retrieval. Zero values take the service defaults.
type Options struct {
	// TopK is how many chunk matches the semantic search requests.
	TopK int
	// ScoreThreshold gates grounded generation on the best match score.
	ScoreThreshold float64
	// ContextArticles caps how many top matches contribute source articles.
	ContextArticles int
}

const (
	defaultTopK            = 5
	defaultScoreThreshold  = 0.5
	defaultContextArticles = 3
)

// Answer is one resolved question.
type Answer struct {
	Route      string
	Text       string
	Sources    []string
	Confidence float64
	Duration   time.Duration
}

// Agent owns the question-answering pipelines. graphdb may be nil, in
// which case graph-routed questions report the graph as unavailable
// while the semantic path keeps serving.
type Agent struct {
	llm      llm.Provider
	chunks   chunkstore.Store
	articles *reconstruct.Service
	graphdb  graph.Store
	tel      *telemetry.Telemetry
	opts     Options
	logger   *log.Logger
}

// New wires the agent. tel may be nil.
func New(provider llm.Provider, chunks chunkstore.Store, articles *reconstruct.Service, graphdb graph.Store, tel *telemetry.Telemetry, opts Options) *Agent {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = defaultScoreThreshold
	}
	if opts.ContextArticles <= 0 {
		opts.ContextArticles = defaultContextArticles
	}
	return &Agent{
		llm:      provider,
		chunks:   chunks,
		articles: articles,
		graphdb:  graphdb,
		tel:      tel,
		opts:     opts,
		logger:   log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
	}
}

// Ask routes the question and runs the matching pipeline. Graph-side
// failures come back as descriptive answer text with a nil error; the
// semantic side propagates retrieval and generation errors so callers
// can decide the fallback messaging.
func (a *Agent) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question is empty")
	}

	start := time.Now()
	route := a.Route(ctx, question)

	var (
		ans Answer
		err error
	)
	switch route {
	case RouteGraph:
		ans = a.AnswerGraph(ctx, question)
	default:
		ans, err = a.AnswerSemantic(ctx, question)
	}
	ans.Route = route
	ans.Duration = time.Since(start)
	if a.tel != nil {
		a.tel.RecordQuestion(route, ans.Duration, err)
	}
	if err != nil {
		return ans, fmt.Errorf("%s pipeline: %w", route, err)
	}
	return ans, nil
}

// Route classifies the question as semantic or graph. The first
// recognized label in the reply wins; call failures and unrecognized
// output default to semantic.
func (a *Agent) Route(ctx context.Context, question string) string {
	resp, err := a.llm.Generate(ctx, llm.Request{
		System:    routeSystem,
		Prompt:    fmt.Sprintf("User question: %q", question),
		MaxTokens: 8,
	})
	if err != nil {
		a.logger.Printf("warn: routing failed, defaulting to semantic: %v", err)
		return RouteSemantic
	}
	label := strings.ToLower(strings.TrimSpace(resp.Text))
	idxGraph := strings.Index(label, RouteGraph)
	idxSemantic := strings.Index(label, RouteSemantic)
	if idxGraph >= 0 && (idxSemantic < 0 || idxGraph < idxSemantic) {
		return RouteGraph
	}
	return RouteSemantic
}
