package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string

	// Relational store: "sqlite" (embedded, default) or "mysql"
	DBDriver    string
	SQLitePath  string // File path for the sqlite backend
	DatabaseURL string // MySQL DSN when DBDriver=mysql

	// Redis is optional; rate limiting, the distributed owner lock and event
	// fan-out degrade gracefully without it
	RedisURL     string
	RedisEnabled bool

	// Oracle providers
	Oracle OracleConfig

	// Classifier for the relationship pass: "lexical" (no oracle calls) or "llm"
	RelationClassifier string

	// Vector index: "chromem" (embedded, default) or "store" (relational)
	VectorBackend string
	VectorDir     string // Persistence dir for the chromem backend ("" = in-memory)
	EmbeddingDims int

	// Graph thresholds
	SupersedeConfidence  float64 // Contradiction confidence required to archive during ingestion
	FlagConfidence       float64 // Looser confidence for the informational outdated flag
	ContradictionFloor   float64 // Minimum similarity for contradiction candidates
	RelationFloor        float64 // Minimum similarity for relationship candidates
	ExtendsThreshold     float64 // Similarity above which an edge is "extends"
	CandidateCap         int     // Max candidates per vector query
	InferredEdgeStrength float64 // Fixed strength for entity co-occurrence edges

	// Lifecycle policies
	ExpiryArchival  bool          // Archive memories past expires_at (off: freshness-only decay)
	DecaySweepEvery time.Duration // Interval of the freshness sweep job

	// Capture (web page + document ingestion)
	CaptureEnabled       bool
	CaptureMaxBodySize   int64
	CaptureMaxConcurrent int
	CaptureGlobalRate    float64 // Requests per second across all owners
	CapturePerOwnerRate  float64

	// Export
	ExportPDFEnabled bool
	ChromiumPath     string

	// Digest delivery (Telegram)
	DigestEnabled    bool
	TelegramBotToken string

	// Content encryption at rest (AES-256-GCM); empty disables encryption
	MemoryEncryptionKey string

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// OracleConfig configures the external text-understanding services
type OracleConfig struct {
	// Provider: "openai" (any OpenAI-compatible endpoint), "anthropic", "ollama"
	Provider string
	BaseURL  string
	APIKey   string

	// Separate embedding endpoint, required for the anthropic provider
	// (Anthropic exposes no embeddings API); falls back to BaseURL/APIKey
	EmbeddingBaseURL string
	EmbeddingAPIKey  string

	// Models per role
	EmbeddingModel  string
	ClassifierModel string // Categorization, entity extraction, contradiction
	GenerationModel string // QA answer generation
	FallbackModel   string // Secondary conflict classifier (one retry)

	// Timeout budgets
	EmbedTimeout    time.Duration // Embedding + classification calls
	GenerateTimeout time.Duration // Answer generation calls
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: strings.ToLower(getEnv("ENVIRONMENT", "development")),

		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/engram.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisEnabled: getBoolEnv("REDIS_ENABLED", false),

		Oracle: OracleConfig{
			Provider:         getEnv("ORACLE_PROVIDER", "openai"),
			BaseURL:          getEnv("ORACLE_BASE_URL", "https://api.openai.com/v1"),
			APIKey:           getEnv("ORACLE_API_KEY", ""),
			EmbeddingBaseURL: getEnv("ORACLE_EMBEDDING_BASE_URL", ""),
			EmbeddingAPIKey:  getEnv("ORACLE_EMBEDDING_API_KEY", ""),
			EmbeddingModel:   getEnv("ORACLE_EMBEDDING_MODEL", "text-embedding-3-small"),
			ClassifierModel:  getEnv("ORACLE_CLASSIFIER_MODEL", "gpt-4o-mini"),
			GenerationModel:  getEnv("ORACLE_GENERATION_MODEL", "gpt-4o-mini"),
			FallbackModel:    getEnv("ORACLE_FALLBACK_MODEL", ""),
			EmbedTimeout:     getDurationEnv("ORACLE_EMBED_TIMEOUT", 10*time.Second),
			GenerateTimeout:  getDurationEnv("ORACLE_GENERATE_TIMEOUT", 30*time.Second),
		},

		RelationClassifier: getEnv("RELATION_CLASSIFIER", "lexical"),

		VectorBackend: getEnv("VECTOR_BACKEND", "chromem"),
		VectorDir:     getEnv("VECTOR_DIR", "./data/vectors"),
		EmbeddingDims: getIntEnv("EMBEDDING_DIMS", 1536),

		SupersedeConfidence:  getFloatEnv("SUPERSEDE_CONFIDENCE", 0.7),
		FlagConfidence:       getFloatEnv("FLAG_CONFIDENCE", 0.6),
		ContradictionFloor:   getFloatEnv("CONTRADICTION_FLOOR", 0.4),
		RelationFloor:        getFloatEnv("RELATION_FLOOR", 0.5),
		ExtendsThreshold:     getFloatEnv("EXTENDS_THRESHOLD", 0.85),
		CandidateCap:         getIntEnv("CANDIDATE_CAP", 10),
		InferredEdgeStrength: getFloatEnv("INFERRED_EDGE_STRENGTH", 0.6),

		ExpiryArchival:  getBoolEnv("LIFECYCLE_EXPIRY_ARCHIVAL", false),
		DecaySweepEvery: getDurationEnv("DECAY_SWEEP_EVERY", 24*time.Hour),

		CaptureEnabled:       getBoolEnv("CAPTURE_ENABLED", true),
		CaptureMaxBodySize:   int64(getIntEnv("CAPTURE_MAX_BODY_SIZE", 10*1024*1024)),
		CaptureMaxConcurrent: getIntEnv("CAPTURE_MAX_CONCURRENT", 10),
		CaptureGlobalRate:    getFloatEnv("CAPTURE_GLOBAL_RATE", 10.0),
		CapturePerOwnerRate:  getFloatEnv("CAPTURE_PER_OWNER_RATE", 5.0),

		ExportPDFEnabled: getBoolEnv("EXPORT_PDF_ENABLED", false),
		ChromiumPath:     getEnv("CHROMIUM_PATH", "/usr/bin/chromium-browser"),

		DigestEnabled:    getBoolEnv("DIGEST_ENABLED", false),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		MemoryEncryptionKey: getEnv("MEMORY_ENCRYPTION_KEY", ""),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		AccessTokenTTL:  getDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDurationEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
