package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	Env      string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Chunking defaults
	MaxChunkSize int
	ChunkOverlap int

	// Retrieval defaults
	DefaultTopK         int
	SimilarityThreshold float64
	CacheTTLSeconds     int

	// MongoDB Vector Search
	VectorSearchEnabled bool
	VectorIndexName     string
	VectorDimensions    int

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai"
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	OpenAIAPIKey          string
	OpenAIEmbeddingsModel string

	// Generation
	GeminiAPIKey     string
	GeminiModel      string
	GeminiTier       string
	EvaluatorWorkers int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int // seconds

	// Telemetry
	OTLPEndpoint string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/rag_pipeline"),
		DBName:   getEnv("DB_NAME", "rag_pipeline"),
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("APP_ENV", "debug"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		DefaultTopK:         getEnvInt("DEFAULT_TOP_K", 5),
		SimilarityThreshold: getEnvFloat64("SIMILARITY_THRESHOLD", 0.5),
		CacheTTLSeconds:     getEnvInt("CACHE_TTL_SECONDS", 3600),

		VectorSearchEnabled: getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorIndexName:     getEnv("MONGODB_VECTOR_INDEX", "chunks_vector"),
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:       getEnv("GEMINI_TIER", "free"),
		EvaluatorWorkers: getEnvInt("EVALUATOR_WORKERS", 4),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.EmbeddingsProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDINGS_PROVIDER=openai")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
