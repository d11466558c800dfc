package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins []string
	JWTSecret   string

	// Redis backs both the task queues and the chat pub/sub bridge.
	RedisURL      string
	RedisPassword string
	RedisDB       int

	GeminiAPIKey    string
	EmbeddingModel  string
	GenerationModel string

	// Vector search configuration. Dimensions are fixed by the embedding
	// model; the index name is only used when Atlas vector search is enabled.
	VectorSearchEnabled bool
	VectorIndexName     string
	VectorDimensions    int

	MaxChunkSize int
	ChunkOverlap int
	MinChunkSize int

	FileStorageDir string
	MaxFileSize    int64

	// Crawler bounds. Discovery and content fetches are both capped; an
	// unbounded fetch can stall a worker slot indefinitely.
	CrawlDiscoveryLimit int
	CrawlHardCap        int
	CrawlFetchTimeout   time.Duration
	CrawlMaxFetchBytes  int64
	CrawlDelay          time.Duration
	CrawlMinContent     int
	CrawlRenderJS       bool

	GDocFetchTimeout  time.Duration
	GDocMaxFetchBytes int64

	NotionToken    string
	NotionSyncCron string

	SlackPollInterval time.Duration

	RetrievalTopK int

	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/docqa"),
		DBName:   getEnv("DB_NAME", "docqa"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		EmbeddingModel:  getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.0-flash"),

		VectorSearchEnabled: getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorIndexName:     getEnv("MONGODB_VECTOR_INDEX", "vector_points_index"),
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
		MinChunkSize: getEnvInt("MIN_CHUNK_SIZE", 100),

		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),
		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 104857600),

		CrawlDiscoveryLimit: getEnvInt("CRAWL_DISCOVERY_LIMIT", 200),
		CrawlHardCap:        getEnvInt("CRAWL_HARD_CAP", 500),
		CrawlFetchTimeout:   getEnvDuration("CRAWL_FETCH_TIMEOUT", 30*time.Second),
		CrawlMaxFetchBytes:  getEnvInt64("CRAWL_MAX_FETCH_BYTES", 5*1024*1024),
		CrawlDelay:          getEnvDuration("CRAWL_DELAY", 300*time.Millisecond),
		CrawlMinContent:     getEnvInt("CRAWL_MIN_CONTENT", 200),
		CrawlRenderJS:       getEnvBool("CRAWL_RENDER_JS", false),

		GDocFetchTimeout:  getEnvDuration("GDOC_FETCH_TIMEOUT", 30*time.Second),
		GDocMaxFetchBytes: getEnvInt64("GDOC_MAX_FETCH_BYTES", 10*1024*1024),

		NotionToken:    getEnv("NOTION_TOKEN", ""),
		NotionSyncCron: getEnv("NOTION_SYNC_CRON", "0 */2 * * *"),

		SlackPollInterval: getEnvDuration("SLACK_POLL_INTERVAL", 5*time.Second),

		RetrievalTopK: getEnvInt("RETRIEVAL_TOP_K", 3),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
