package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from the environment, optionally overlaid by a
// .env file in the working directory. Env values always win over .env
// defaults so container orchestration can override a checked-in .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Workdir:  firstNonEmpty(os.Getenv("WORKDIR"), "."),
		LogPath:  os.Getenv("LOG_PATH"),
		LogLevel: firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		HTTPAddr: firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8085"),
	}

	cfg.LLM = LLMConfig{
		DefaultProvider: strings.ToLower(firstNonEmpty(os.Getenv("LLM_PROVIDER"), "deepseek")),
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			API:     firstNonEmpty(os.Getenv("OPENAI_API_MODE"), "chat"),
		},
		Anthropic: AnthropicConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			Model:   firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-3-5-sonnet-latest"),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		},
		Google: GoogleConfig{
			APIKey:  os.Getenv("GOOGLE_API_KEY"),
			Model:   firstNonEmpty(os.Getenv("GOOGLE_MODEL"), "gemini-2.0-flash"),
			BaseURL: os.Getenv("GOOGLE_BASE_URL"),
			Timeout: intEnv("GOOGLE_TIMEOUT_SECONDS", 60),
		},
		DeepSeek: OpenAIConfig{
			APIKey:  os.Getenv("DEEPSEEK_API_KEY"),
			Model:   firstNonEmpty(os.Getenv("DEEPSEEK_MODEL"), "deepseek-chat"),
			BaseURL: firstNonEmpty(os.Getenv("DEEPSEEK_BASE_URL"), "https://api.deepseek.com"),
			API:     "chat",
		},
		RequestTimeout: durationEnv("LLM_REQUEST_TIMEOUT_SECONDS", 60*time.Second),
		MaxRetries:     intEnv("LLM_MAX_RETRIES", 3),
		RetryBaseDelay: durationEnv("LLM_RETRY_BASE_DELAY_MS", 250*time.Millisecond),
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   strings.ToLower(firstNonEmpty(os.Getenv("EMBED_PROVIDER"), "deterministic")),
		Model:      firstNonEmpty(os.Getenv("EMBED_MODEL"), "text-embedding-3-small"),
		APIKey:     os.Getenv("EMBED_API_KEY"),
		BaseURL:    os.Getenv("EMBED_BASE_URL"),
		Dimension:  intEnv("EMBED_DIMENSION", 256),
		StorageDim: intEnv("EMBED_STORAGE_DIMENSION", 1536),
		Timeout:    durationEnv("EMBED_TIMEOUT_SECONDS", 30*time.Second),
	}

	cfg.Database = DatabaseConfig{
		DSN:           firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN")),
		VectorBackend: strings.ToLower(firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "pgvector")),
		QdrantAddr:    os.Getenv("QDRANT_ADDR"),
		VectorMetric:  strings.ToLower(firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine")),
		MaxConns:      int32(intEnv("DATABASE_MAX_CONNS", 10)),
	}

	cfg.Cache = CacheConfig{
		Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intEnv("REDIS_DB", 0),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:        os.Getenv("KAFKA_BROKERS"),
		CommandsTopic:  firstNonEmpty(os.Getenv("KAFKA_COMMANDS_TOPIC"), "memoria.memorise.commands"),
		ResponsesTopic: firstNonEmpty(os.Getenv("KAFKA_RESPONSES_TOPIC"), "memoria.memorise.responses"),
	}

	cfg.ClickHouse = ClickHouseConfig{
		DSN:   os.Getenv("CLICKHOUSE_DSN"),
		Table: firstNonEmpty(os.Getenv("CLICKHOUSE_TABLE"), "token_usage"),
	}

	cfg.ObjectStore = ObjectStoreConfig{
		Bucket:          os.Getenv("S3_BUCKET"),
		Region:          firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		UsePathStyle:    boolEnv("S3_USE_PATH_STYLE", false),
	}

	cfg.OIDC = OIDCConfig{
		IssuerURL: os.Getenv("ADMIN_OIDC_ISSUER_URL"),
		Audience:  os.Getenv("ADMIN_OIDC_AUDIENCE"),
	}

	cfg.Obs = ObsConfig{
		ServiceName:  firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "memoria"),
		Environment:  firstNonEmpty(os.Getenv("ENVIRONMENT"), "dev"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	cfg.StepLoop = StepLoopConfig{
		MaxSteps:           intEnv("MAX_STEPS", 20),
		MaxToolParallelism: intEnv("MAX_TOOL_PARALLELISM", 4),
		StepTimeout:        durationEnv("STEP_TIMEOUT_SECONDS", 30*time.Second),
		RunTimeout:         durationEnv("AGENT_RUN_TIMEOUT_SECONDS", 120*time.Second),
	}

	cfg.Stream = StreamConfig{
		HeartbeatInterval: durationEnv("SSE_HEARTBEAT_SECONDS", 30*time.Second),
		QueueDepth:        intEnv("SSE_QUEUE_DEPTH", 64),
	}

	cfg.MCP = MCPConfig{
		Addr:                  firstNonEmpty(os.Getenv("MCP_ADDR"), ":8086"),
		SimilarityThreshold:   floatEnv("MCP_SIMILARITY_THRESHOLD", 0.5),
		ResourceTruncateChars: intEnv("MCP_RESOURCE_TRUNCATE_CHARS", 1000),
		DefaultTruncateChars:  intEnv("MCP_DEFAULT_TRUNCATE_CHARS", 200),
		ChatTimeout:           durationEnv("MCP_CHAT_TIMEOUT_SECONDS", 15*time.Second),
		ChatTruncateChars:     intEnv("MCP_CHAT_TRUNCATE_CHARS", 200),
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.DefaultProvider {
	case "openai", "anthropic", "google", "deepseek":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of openai, anthropic, google, deepseek (got %q)", cfg.LLM.DefaultProvider)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.Database.VectorBackend {
	case "pgvector", "qdrant":
	default:
		return fmt.Errorf("VECTOR_BACKEND must be pgvector or qdrant (got %q)", cfg.Database.VectorBackend)
	}
	if cfg.Embedding.StorageDim < cfg.Embedding.Dimension {
		return fmt.Errorf("EMBED_STORAGE_DIMENSION (%d) must be >= EMBED_DIMENSION (%d)", cfg.Embedding.StorageDim, cfg.Embedding.Dimension)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if strings.HasSuffix(key, "_MS") {
		return time.Duration(n) * time.Millisecond
	}
	return time.Duration(n) * time.Second
}
