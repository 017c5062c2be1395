package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dealscope services.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	ChunkStore ChunkStoreConfig `mapstructure:"chunk_store"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Report     ReportConfig     `mapstructure:"report"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains application wide settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig describes the chat and embedding models.
type LLMConfig struct {
	Provider            string        `mapstructure:"provider"`
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	ChatModel           string        `mapstructure:"chat_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "", "openai":
	default:
		return fmt.Errorf("llm.provider %q is not supported", l.Provider)
	}
	if l.EmbeddingDimensions <= 0 {
		return fmt.Errorf("llm.embedding_dimensions must be > 0")
	}
	return nil
}

// ChunkStoreConfig selects and configures the vector store backend.
type ChunkStoreConfig struct {
	Provider string         `mapstructure:"provider"` // pinecone, pgvector or memory
	Pinecone PineconeConfig `mapstructure:"pinecone"`
}

// PineconeConfig contains the Pinecone index connection settings.
type PineconeConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Index         string        `mapstructure:"index"`
	Host          string        `mapstructure:"host"`
	ControllerURL string        `mapstructure:"controller_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func (c ChunkStoreConfig) Validate() error {
	switch c.Provider {
	case "pinecone", "pgvector", "memory":
		return nil
	default:
		return fmt.Errorf("chunk_store.provider must be pinecone, pgvector or memory, got %q", c.Provider)
	}
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	File     FileConfig     `mapstructure:"file"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// FileConfig contains local file storage settings.
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogDir  string `mapstructure:"log_dir"`
}

// QueueConfig configures the Redis Streams ingest pipeline.
type QueueConfig struct {
	Stream   string        `mapstructure:"stream"`
	Group    string        `mapstructure:"group"`
	Consumer string        `mapstructure:"consumer"`
	Batch    int           `mapstructure:"batch"`
	Block    time.Duration `mapstructure:"block"`
}

func (q QueueConfig) Validate() error {
	if strings.TrimSpace(q.Stream) == "" {
		return fmt.Errorf("queue.stream required")
	}
	if strings.TrimSpace(q.Group) == "" {
		return fmt.Errorf("queue.group required")
	}
	if q.Batch <= 0 {
		return fmt.Errorf("queue.batch must be > 0")
	}
	return nil
}

// IngestConfig drives listing discovery, article fetching and chunking.
type IngestConfig struct {
	ListingURL   string `mapstructure:"listing_url"`
	PageParam    string `mapstructure:"page_param"`
	PagesToCheck int    `mapstructure:"pages_to_check"`

	AllowHosts          []string `mapstructure:"allow_hosts"`
	LinkIncludePatterns []string `mapstructure:"link_include_patterns"`
	LinkExcludePatterns []string `mapstructure:"link_exclude_patterns"`

	FetchMode     string        `mapstructure:"fetch_mode"` // static or browser
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	PerHostRPS    float64       `mapstructure:"per_host_rps"`
	PageDelay     time.Duration `mapstructure:"page_delay"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`

	ParentChunkSize    int `mapstructure:"parent_chunk_size"`
	ParentChunkOverlap int `mapstructure:"parent_chunk_overlap"`
	ChunkSize          int `mapstructure:"chunk_size"`
	ChunkOverlap       int `mapstructure:"chunk_overlap"`
	UpsertBatchSize    int `mapstructure:"upsert_batch_size"`
}

// GraphConfig contains Neo4j connection and extraction settings.
type GraphConfig struct {
	URI       string `mapstructure:"uri"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	BatchSize int    `mapstructure:"batch_size"`
}

func (g GraphConfig) Validate() error {
	if strings.TrimSpace(g.URI) == "" {
		return fmt.Errorf("graph.uri required")
	}
	if g.BatchSize <= 0 {
		return fmt.Errorf("graph.batch_size must be > 0")
	}
	return nil
}

// AgentConfig tunes the question answering pipelines.
type AgentConfig struct {
	TopK            int           `mapstructure:"top_k"`
	ScoreThreshold  float64       `mapstructure:"score_threshold"`
	ContextArticles int           `mapstructure:"context_articles"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

func (a AgentConfig) Validate() error {
	if a.TopK <= 0 {
		return fmt.Errorf("agent.top_k must be > 0")
	}
	if a.ScoreThreshold < 0 || a.ScoreThreshold > 1 {
		return fmt.Errorf("agent.score_threshold must be within [0,1]")
	}
	if a.ContextArticles <= 0 {
		return fmt.Errorf("agent.context_articles must be > 0")
	}
	return nil
}

// ReportConfig tunes the long form report generator.
type ReportConfig struct {
	MaxArticles  int `mapstructure:"max_articles"`
	SectionWords int `mapstructure:"section_words"`
}

// BudgetConfig caps spend for long running commands. Zero means unlimited.
type BudgetConfig struct {
	MaxCostUSD  float64 `mapstructure:"max_cost_usd"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	MaxArticles int     `mapstructure:"max_articles"`
}

func (b BudgetConfig) Validate() error {
	if b.MaxCostUSD < 0 {
		return fmt.Errorf("budget.max_cost_usd cannot be negative")
	}
	if b.MaxTokens < 0 {
		return fmt.Errorf("budget.max_tokens cannot be negative")
	}
	if b.MaxArticles < 0 {
		return fmt.Errorf("budget.max_articles cannot be negative")
	}
	return nil
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// LoadConfig loads config from file, applying defaults and DEALSCOPE_*
// environment overrides. An explicit path that cannot be read is fatal;
// with no path the defaults stand on their own.
func LoadConfig(path string) *Config {
	viper.SetConfigName("dealscope")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.chat_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.embedding_dimensions", 1536)
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("chunk_store.provider", "pinecone")
	viper.SetDefault("chunk_store.pinecone.timeout", "30s")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.user", "postgres")
	viper.SetDefault("storage.postgres.dbname", "dealscope")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("storage.file.data_dir", "./data")
	viper.SetDefault("queue.stream", "article.discovered")
	viper.SetDefault("queue.group", "dealscope-indexers")
	viper.SetDefault("queue.batch", 16)
	viper.SetDefault("queue.block", "5s")
	viper.SetDefault("ingest.listing_url", "https://imaa-institute.org/mergers-and-acquisitions-news/")
	viper.SetDefault("ingest.page_param", "e-page-8fbddee")
	viper.SetDefault("ingest.pages_to_check", 3)
	viper.SetDefault("ingest.allow_hosts", []string{"imaa-institute.org"})
	viper.SetDefault("ingest.fetch_mode", "static")
	viper.SetDefault("ingest.user_agent", "dealscope/1.0 (+https://github.com/dealscope/dealscope)")
	viper.SetDefault("ingest.respect_robots", true)
	viper.SetDefault("ingest.per_host_rps", 1.0)
	viper.SetDefault("ingest.page_delay", "2s")
	viper.SetDefault("ingest.fetch_timeout", "30s")
	viper.SetDefault("ingest.parent_chunk_size", 38000)
	viper.SetDefault("ingest.parent_chunk_overlap", 0)
	viper.SetDefault("ingest.chunk_size", 1000)
	viper.SetDefault("ingest.chunk_overlap", 100)
	viper.SetDefault("ingest.upsert_batch_size", 100)
	viper.SetDefault("graph.uri", "bolt://localhost:7687")
	viper.SetDefault("graph.username", "neo4j")
	viper.SetDefault("graph.database", "neo4j")
	viper.SetDefault("graph.batch_size", 10)
	viper.SetDefault("agent.top_k", 5)
	viper.SetDefault("agent.score_threshold", 0.5)
	viper.SetDefault("agent.context_articles", 3)
	viper.SetDefault("agent.cache_ttl", "15m")
	viper.SetDefault("report.max_articles", 10)
	viper.SetDefault("report.section_words", 400)
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEALSCOPE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Ingest = config.Ingest.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.ChunkStore.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Queue.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	if err := config.Graph.Validate(); err != nil {
		panic(err)
	}
	if err := config.Agent.Validate(); err != nil {
		panic(err)
	}
	if err := config.Budget.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
