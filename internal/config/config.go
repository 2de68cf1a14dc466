// Package config loads process configuration from the environment.
package config

import "time"

// Config holds every knob the engine reads at startup. Nothing here is
// re-read at runtime except through Settings (per-user, see internal/settings).
type Config struct {
	Workdir  string
	LogPath  string
	LogLevel string

	HTTPAddr string

	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	ObjectStore ObjectStoreConfig
	OIDC       OIDCConfig
	Obs        ObsConfig

	StepLoop StepLoopConfig
	Stream   StreamConfig
	MCP      MCPConfig
}

// LLMConfig selects and configures the four supported providers. Provider
// selection is per-agent (see internal/agents) but falls back to this
// default when an agent definition does not override it.
type LLMConfig struct {
	DefaultProvider string // openai | anthropic | google | deepseek

	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
	// DeepSeek exposes an OpenAI-compatible /chat/completions surface, so it
	// is configured and constructed the same way as OpenAI (openai.New with
	// DeepSeek's base URL and API key) rather than its own client type.
	DeepSeek OpenAIConfig

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// ProviderConfig is the credential/endpoint bundle for a generic provider
// (used outside the four chat LLM providers, e.g. the Embedder).
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIConfig configures the OpenAI-compatible chat client, also used for
// DeepSeek and any self-hosted OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	API         string // "chat" | "completions" | "responses"; empty defaults to "completions" in the client
	ExtraParams map[string]any
	LogPayloads bool
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// AnthropicPromptCacheConfig controls Anthropic prompt-caching scope.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// GoogleConfig configures the google.golang.org/genai client.
type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds
}

// EmbeddingConfig configures the text embedder used by memory managers.
type EmbeddingConfig struct {
	Provider       string // openai | google | deterministic
	Model          string
	APIKey         string
	BaseURL        string
	Dimension      int // D_model: native dimension of the configured embedder
	StorageDim     int // D_pad: padded dimension persisted in the Store
	Timeout        time.Duration
}

// DatabaseConfig configures the Postgres-backed Store.
type DatabaseConfig struct {
	DSN             string
	VectorBackend   string // pgvector | qdrant
	QdrantAddr      string
	VectorMetric    string // cosine | l2 | dot
	MaxConns        int32
}

// CacheConfig configures the Redis-backed cache (settings, confirmation
// tickets, otid idempotency).
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the optional background memorising queue (C13).
type KafkaConfig struct {
	Brokers        string // comma-separated; empty disables Kafka and falls back to in-process workers
	CommandsTopic  string
	ResponsesTopic string
}

// ClickHouseConfig configures the optional telemetry longitudinal sink (C12).
type ClickHouseConfig struct {
	DSN   string // empty disables the sink
	Table string
}

// ObjectStoreConfig configures the S3-compatible object store (C14).
type ObjectStoreConfig struct {
	Bucket          string // empty disables object storage; Resource content stays inline
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// OIDCConfig configures admin-path bearer-token verification (C15).
type OIDCConfig struct {
	IssuerURL string // empty disables admin auth enforcement (dev mode)
	Audience  string
}

// ObsConfig configures tracing/metrics export.
type ObsConfig struct {
	ServiceName string
	Environment string
	OTLPEndpoint string // empty disables exporting; spans/metrics are still recorded in-process
}

// StepLoopConfig bounds agent step execution (§4.7).
type StepLoopConfig struct {
	MaxSteps           int
	MaxToolParallelism int
	StepTimeout        time.Duration
	RunTimeout         time.Duration
}

// StreamConfig configures the SSE dispatcher (§4.8).
type StreamConfig struct {
	HeartbeatInterval time.Duration
	QueueDepth         int
}

// MCPConfig configures the MCP SSE adapter (§4.9).
type MCPConfig struct {
	Addr                  string
	SimilarityThreshold   float64
	ResourceTruncateChars int
	DefaultTruncateChars  int
	ChatTimeout           time.Duration
	ChatTruncateChars     int
}
