// Package llm wraps the language-model boundary. The rest of the system
// depends on the Provider interface only; the concrete client, model names
// and pricing stay in here.
package llm

import (
	"context"
	"fmt"
)

// Request describes a single generation call. JSONMode constrains the model
// to emit one JSON object; classification and free-form calls leave it off.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// Usage reports what a call consumed. CostUSD is derived from the pricing
// table and is zero for unknown models.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Response carries the model text verbatim plus its usage accounting.
type Response struct {
	Text  string
	Usage Usage
}

// Provider is the black-box language model: free-form or JSON-constrained
// generation plus batched embeddings. Embed preserves input order in its
// output and must embed all inputs in one backend call when the backend
// supports batching.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbeddingDimensions() int
}

// UsageRecorder receives per-call accounting. Telemetry implements it; a nil
// recorder disables accounting without branching at call sites.
type UsageRecorder interface {
	RecordLLMUsage(kind, model string, usage Usage)
}

// Config selects and parameterises the provider.
type Config struct {
	Provider            string
	APIKey              string
	BaseURL             string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float32
	MaxTokens           int
	TimeoutSeconds      int
}

// New constructs the configured provider. Only OpenAI-compatible backends
// are wired; BaseURL points the same client at self-hosted gateways.
func New(cfg Config, recorder UsageRecorder) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg, recorder)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
