package runtime

import (
	"fmt"
	"time"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/chunkstore"
	"github.com/dealscope/dealscope/internal/fetch"
	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/llm"
	"github.com/dealscope/dealscope/internal/store"
)

// BuildLLM constructs the chat and embedding provider. recorder may be
// nil to disable usage accounting.
func BuildLLM(cfg *config.Config, recorder llm.UsageRecorder) (llm.Provider, error) {
	return llm.New(llm.Config{
		Provider:            cfg.LLM.Provider,
		APIKey:              cfg.LLM.APIKey,
		BaseURL:             cfg.LLM.BaseURL,
		ChatModel:           cfg.LLM.ChatModel,
		EmbeddingModel:      cfg.LLM.EmbeddingModel,
		EmbeddingDimensions: cfg.LLM.EmbeddingDimensions,
		Temperature:         float32(cfg.LLM.Temperature),
		MaxTokens:           cfg.LLM.MaxTokens,
		TimeoutSeconds:      int(cfg.LLM.Timeout / time.Second),
	}, recorder)
}

// BuildFetcher constructs the page fetcher with the politeness layers
// the crawl config asks for.
func BuildFetcher(cfg config.IngestConfig) (fetch.Fetcher, error) {
	inner, err := fetch.New(fetch.Options{
		Mode:      cfg.FetchMode,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
	})
	if err != nil {
		return nil, err
	}
	var gate *fetch.RobotsGate
	if cfg.RespectRobots {
		gate = fetch.NewRobotsGate(cfg.UserAgent, cfg.FetchTimeout)
	}
	var limiter *fetch.HostLimiter
	if cfg.PerHostRPS > 0 {
		limiter = fetch.NewHostLimiter(cfg.PerHostRPS, 1)
	}
	return fetch.NewPolite(inner, gate, limiter), nil
}

// OpenChunkStore opens the configured vector backend. The pgvector
// backend shares the relational database connection, so st must be
// open before calling this with that provider.
func OpenChunkStore(cfg *config.Config, st *store.Store) (chunkstore.Store, error) {
	switch cfg.ChunkStore.Provider {
	case "pinecone":
		return chunkstore.NewPinecone(chunkstore.PineconeConfig{
			APIKey:        cfg.ChunkStore.Pinecone.APIKey,
			Index:         cfg.ChunkStore.Pinecone.Index,
			Host:          cfg.ChunkStore.Pinecone.Host,
			ControllerURL: cfg.ChunkStore.Pinecone.ControllerURL,
			Timeout:       cfg.ChunkStore.Pinecone.Timeout,
		}, nil)
	case "pgvector":
		if st == nil {
			return nil, fmt.Errorf("pgvector chunk store needs the postgres connection")
		}
		return chunkstore.NewPGVector(st.DB, cfg.LLM.EmbeddingDimensions)
	case "memory":
		return chunkstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown chunk_store.provider %q", cfg.ChunkStore.Provider)
	}
}

// OpenGraph connects to the deal graph database.
func OpenGraph(cfg config.GraphConfig) (graph.Store, error) {
	return graph.NewNeo4j(graph.Neo4jConfig{
		URI:      cfg.URI,
		Username: cfg.Username,
		Password: cfg.Password,
		Database: cfg.Database,
	})
}
