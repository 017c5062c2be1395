package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dealscope/dealscope/internal/llm"
)

func TestRecordLLMUsageAccumulates(t *testing.T) {
	tel := New()
	tel.RecordLLMUsage("generate", "gpt-4o-mini", llm.Usage{PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.01})
	tel.RecordLLMUsage("embed", "text-embedding-3-small", llm.Usage{PromptTokens: 500, CostUSD: 0.002})

	s := tel.Costs()
	if s.TotalTokens != 650 {
		t.Fatalf("total tokens = %d, want 650", s.TotalTokens)
	}
	if got := s.ModelCosts["gpt-4o-mini"]; got != 0.01 {
		t.Fatalf("model cost = %v, want 0.01", got)
	}
	if got := s.OperationCosts["embed"]; got != 0.002 {
		t.Fatalf("operation cost = %v, want 0.002", got)
	}
	if v := testutil.ToFloat64(tel.llmCost.WithLabelValues("gpt-4o-mini")); v != 0.01 {
		t.Fatalf("prometheus cost counter = %v, want 0.01", v)
	}
}

func TestCostsReturnsCopy(t *testing.T) {
	tel := New()
	tel.RecordLLMUsage("generate", "gpt-4o", llm.Usage{CostUSD: 1})
	s := tel.Costs()
	s.ModelCosts["gpt-4o"] = 99
	if tel.Costs().ModelCosts["gpt-4o"] != 1 {
		t.Fatalf("Costs must return a detached copy")
	}
}

func TestQuestionAndFetchCounters(t *testing.T) {
	tel := New()
	tel.RecordQuestion("semantic", 2*time.Second, nil)
	tel.RecordQuestion("graph", time.Second, errContrived{})
	tel.RecordFetch("ok")
	tel.RecordFetch("ok")
	tel.RecordFetch("error")

	if v := testutil.ToFloat64(tel.questions.WithLabelValues("semantic", "ok")); v != 1 {
		t.Fatalf("semantic ok = %v, want 1", v)
	}
	if v := testutil.ToFloat64(tel.questions.WithLabelValues("graph", "error")); v != 1 {
		t.Fatalf("graph error = %v, want 1", v)
	}
	if v := testutil.ToFloat64(tel.fetches.WithLabelValues("ok")); v != 2 {
		t.Fatalf("fetch ok = %v, want 2", v)
	}
}

func TestEventCounters(t *testing.T) {
	tel := New()
	tel.RecordEventPublished("article.discovered")
	tel.RecordEventPublished("article.discovered")
	tel.RecordEventProcessed("article.discovered", "ok")
	tel.RecordEventProcessed("article.discovered", "duplicate")

	if v := testutil.ToFloat64(tel.published.WithLabelValues("article.discovered")); v != 2 {
		t.Fatalf("published = %v, want 2", v)
	}
	if v := testutil.ToFloat64(tel.processed.WithLabelValues("article.discovered", "duplicate")); v != 1 {
		t.Fatalf("duplicate = %v, want 1", v)
	}
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordGraphWrites(3)
	if v := testutil.ToFloat64(b.graphWrites); v != 0 {
		t.Fatalf("instances must not share collectors, got %v", v)
	}
}

type errContrived struct{}

func (errContrived) Error() string { return "contrived" }
