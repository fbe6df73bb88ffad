package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"docchat-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucket     string
	MinIOUseSSL     bool

	QueueType            string
	RedisURL             string
	SQSQueueURL          string
	SQSVisibilitySeconds int

	VectorIndex      string
	QdrantAddr       string
	QdrantCollection string

	EmbeddingProvider  string
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingRPS       float64
	EmbeddingBatchSize int
	OpenAIAPIKey       string
	OpenAIBaseURL      string

	LLMProvider string
	LLMModel    string

	ChunkSize    int
	ChunkOverlap int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	WorkerConcurrency int
	// WorkerMaxDeliveries is how often a message is tried before its
	// document is failed and the message dropped.
	WorkerMaxDeliveries int
	ProcessingTimeout   time.Duration
	ShutdownTimeout     time.Duration

	TiersFile      string
	MaxUploadBytes int64
	RetrievalTopK  int

	RateLimitBackend string

	JWTSecret    string
	OIDCIssuer   string
	OIDCClientID string

	ConversationStore string
	MongoURI          string
	MongoDatabase     string
}

// Load reads configuration from .env files and environment variables.
func Load() Config {
	loadEnvFiles(".env", "cmd/.env")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	env := normalizeEnv(v.GetString("ENV"))
	dbURL := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if env == "production" && dbURL == "" {
		telemetry.Error("config.missing", map[string]any{"key": "DATABASE_URL"})
	}

	return Config{
		Port:            v.GetString("PORT"),
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		Env:             env,
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeChoice(v.GetString("OBJECT_STORE"), "local", "local", "s3", "minio"),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),
		MinIOEndpoint:   v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey:  v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey:  v.GetString("MINIO_SECRET_KEY"),
		MinIOBucket:     v.GetString("MINIO_BUCKET"),
		MinIOUseSSL:     v.GetBool("MINIO_USE_SSL"),

		QueueType:            normalizeChoice(v.GetString("QUEUE"), "memory", "memory", "redis", "sqs"),
		RedisURL:             v.GetString("REDIS_URL"),
		SQSQueueURL:          v.GetString("SQS_QUEUE_URL"),
		SQSVisibilitySeconds: v.GetInt("SQS_VISIBILITY_TIMEOUT_SECONDS"),

		VectorIndex:      normalizeChoice(v.GetString("VECTOR_INDEX"), "memory", "memory", "pgvector", "qdrant"),
		QdrantAddr:       v.GetString("QDRANT_ADDR"),
		QdrantCollection: v.GetString("QDRANT_COLLECTION"),

		EmbeddingProvider:  normalizeChoice(v.GetString("EMBEDDING_PROVIDER"), "hash", "hash", "openai"),
		EmbeddingModel:     v.GetString("EMBEDDING_MODEL"),
		EmbeddingDim:       v.GetInt("EMBEDDING_DIM"),
		EmbeddingRPS:       v.GetFloat64("EMBEDDING_RPS"),
		EmbeddingBatchSize: v.GetInt("EMBEDDING_BATCH_SIZE"),
		OpenAIAPIKey:       v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:      v.GetString("OPENAI_BASE_URL"),

		LLMProvider: normalizeChoice(v.GetString("LLM_PROVIDER"), "extractive", "extractive", "openai"),
		LLMModel:    v.GetString("LLM_MODEL"),

		ChunkSize:    v.GetInt("CHUNK_SIZE"),
		ChunkOverlap: v.GetInt("CHUNK_OVERLAP"),

		RetryMaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBaseDelay:   v.GetDuration("RETRY_BASE_DELAY"),
		RetryMaxDelay:    v.GetDuration("RETRY_MAX_DELAY"),

		WorkerConcurrency:   v.GetInt("WORKER_CONCURRENCY"),
		WorkerMaxDeliveries: v.GetInt("WORKER_MAX_DELIVERIES"),
		ProcessingTimeout:   v.GetDuration("PROCESSING_TIMEOUT"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),

		TiersFile:      v.GetString("TIERS_FILE"),
		MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		RetrievalTopK:  v.GetInt("RETRIEVAL_TOP_K"),

		RateLimitBackend: normalizeChoice(v.GetString("RATE_LIMIT_BACKEND"), "memory", "memory", "redis"),

		JWTSecret:    v.GetString("JWT_SECRET"),
		OIDCIssuer:   v.GetString("OIDC_ISSUER"),
		OIDCClientID: v.GetString("OIDC_CLIENT_ID"),

		ConversationStore: normalizeChoice(v.GetString("CONVERSATION_STORE"), "postgres", "postgres", "memory", "mongo"),
		MongoURI:          v.GetString("MONGO_URI"),
		MongoDatabase:     v.GetString("MONGO_DATABASE"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "dev")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:5173")
	v.SetDefault("OBJECT_STORE", "local")
	v.SetDefault("LOCAL_STORE_DIR", "./data")
	v.SetDefault("MINIO_BUCKET", "docchat-documents")
	v.SetDefault("QUEUE", "memory")
	v.SetDefault("SQS_VISIBILITY_TIMEOUT_SECONDS", 1200)
	v.SetDefault("VECTOR_INDEX", "memory")
	v.SetDefault("QDRANT_ADDR", "localhost:6334")
	v.SetDefault("QDRANT_COLLECTION", "document_chunks")
	v.SetDefault("EMBEDDING_PROVIDER", "hash")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("EMBEDDING_DIM", 384)
	v.SetDefault("EMBEDDING_RPS", 5)
	v.SetDefault("EMBEDDING_BATCH_SIZE", 16)
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_PROVIDER", "extractive")
	v.SetDefault("CHUNK_SIZE", 500)
	v.SetDefault("CHUNK_OVERLAP", 50)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "300ms")
	v.SetDefault("RETRY_MAX_DELAY", "5s")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("WORKER_MAX_DELIVERIES", 5)
	v.SetDefault("PROCESSING_TIMEOUT", "10m")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("RETRIEVAL_TOP_K", 5)
	v.SetDefault("RATE_LIMIT_BACKEND", "memory")
	v.SetDefault("CONVERSATION_STORE", "postgres")
	v.SetDefault("MONGO_DATABASE", "docchat")
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

// normalizeChoice lowercases raw and falls back to def when it is not one of allowed.
func normalizeChoice(raw, def string, allowed ...string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if clean == a {
			return a
		}
	}
	return def
}

// IsDevLike reports whether env permits dev fallbacks such as in-memory stores.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
