package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

// modelPricing holds cost-per-1k-token rates in USD. Unknown models cost
// zero; accounting is best-effort, not billing.
var modelPricing = map[string]struct{ prompt, completion float64 }{
	"gpt-4o":                 {0.0025, 0.01},
	"gpt-4o-mini":            {0.00015, 0.0006},
	"gpt-4.1":                {0.002, 0.008},
	"gpt-4.1-mini":           {0.0004, 0.0016},
	"text-embedding-3-small": {0.00002, 0},
	"text-embedding-3-large": {0.00013, 0},
}

// OpenAI implements Provider on any OpenAI-compatible chat/embeddings API.
type OpenAI struct {
	client   *openai.Client
	cfg      Config
	recorder UsageRecorder
}

// NewOpenAI builds the client. An empty BaseURL targets api.openai.com.
func NewOpenAI(cfg Config, recorder UsageRecorder) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.EmbeddingDimensions < 1 {
		cfg.EmbeddingDimensions = 1536
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second

	return &OpenAI{
		client:   openai.NewClientWithConfig(clientCfg),
		cfg:      cfg,
		recorder: recorder,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       o.cfg.ChatModel,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else if o.cfg.MaxTokens > 0 {
		chatReq.MaxTokens = o.cfg.MaxTokens
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion: empty choices")
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          cost(o.cfg.ChatModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}
	kind := "generate"
	if req.JSONMode {
		kind = "generate_json"
	}
	o.record(kind, o.cfg.ChatModel, usage)

	return Response{Text: resp.Choices[0].Message.Content, Usage: usage}, nil
}

// Embed sends all inputs in one batched request and returns vectors in input
// order.
func (o *OpenAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(o.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	data := append([]openai.Embedding(nil), resp.Data...)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}

	o.record("embed", o.cfg.EmbeddingModel, Usage{
		PromptTokens: resp.Usage.PromptTokens,
		CostUSD:      cost(o.cfg.EmbeddingModel, resp.Usage.PromptTokens, 0),
	})
	return out, nil
}

func (o *OpenAI) EmbeddingDimensions() int { return o.cfg.EmbeddingDimensions }

func (o *OpenAI) record(kind, model string, usage Usage) {
	if o.recorder != nil {
		o.recorder.RecordLLMUsage(kind, model, usage)
	}
}

func cost(model string, promptTokens, completionTokens int) float64 {
	rates, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*rates.prompt + float64(completionTokens)/1000*rates.completion
}

// EstimateTokens counts prompt tokens locally so budget checks can run
// before a call is made. Falls back to cl100k_base for unknown models.
func EstimateTokens(text, model string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Crude fallback: four characters per token.
			return len(text) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}

var _ Provider = (*OpenAI)(nil)
