package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration, read once at process start.
type Config struct {
	// Server
	HTTPAddr string
	LogLevel string
	Timezone string

	// Database
	DatabaseURL string

	// Kafka (wake-up channel only — never the system of record for a job)
	KafkaBrokers     []string
	KafkaTopicPrefix string

	// LLM (script generation)
	LLMAPIKey        string
	LLMAPIEndpoint   string
	LLMModelPrimary  string
	LLMModelFallback string

	// Embedding
	EmbeddingAPIKey string
	EmbeddingModel  string

	// TTS
	TTSURL     string
	TTSAPIKey  string
	TTSModel   string
	TTSVoice   string

	// Blob storage
	BlobEndpoint  string
	BlobRegion    string
	BlobBucket    string
	BlobAccessKey string
	BlobSecretKey string
	BlobUseSSL    bool
	BlobPublicURL string

	// Worker runtime
	WorkerTypes        []string
	MaxConcurrentJobs  int
	LeaseSeconds       int
	HeartbeatInterval  time.Duration
	ReaperInterval     time.Duration
	ReaperEnabled      bool
	PollInterval       time.Duration
	DrainDeadline      time.Duration
	JobBackoffBase     time.Duration
	JobBackoffMax      time.Duration
	JobDefaultMaxAttempts int

	// Chunking (C3)
	ChunkMinTokens     int
	ChunkMaxTokens     int
	ChunkOverlapTokens int

	// Embedding cache / batching (C4)
	EmbeddingDim         int
	EmbeddingCacheSize   int64
	EmbeddingBatchSize   int
	EmbeddingBatchDelay  time.Duration

	// Retrieval (C5)
	RAGTopK           int
	RAGVectorThreshold float64
	RAGTimeout        time.Duration

	// Mastering (C8)
	NormalizerBin     string
	NormalizerTimeout time.Duration

	// Script generation (C6)
	FutureYearOffset int

	// Tone analytics
	ToneMinAcceptableScore int

	// Playout (C9)
	PlayoutSignTTL time.Duration
}

// Load reads configuration from environment variables, falling back to the
// defaults named in the environment variable reference.
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TZ", "UTC"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		KafkaBrokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "broadcast"),

		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		LLMAPIEndpoint:   getEnv("LLM_API_ENDPOINT", ""),
		LLMModelPrimary:  getEnv("LLM_MODEL_PRIMARY", "gemini-3.0-flash"),
		LLMModelFallback: getEnv("LLM_MODEL_FALLBACK", "gemini-2.5-flash-lite"),

		EmbeddingAPIKey: getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),

		TTSURL:    getEnv("TTS_URL", ""),
		TTSAPIKey: getEnv("TTS_API_KEY", ""),
		TTSModel:  getEnv("TTS_MODEL", "gemini-2.5-pro-preview-tts"),
		TTSVoice:  getEnv("TTS_VOICE", "Zephyr"),

		BlobEndpoint:  getEnv("BLOB_ENDPOINT", "http://localhost:9000"),
		BlobRegion:    getEnv("BLOB_REGION", "us-east-1"),
		BlobBucket:    getEnv("BLOB_BUCKET", "broadcast-assets"),
		BlobAccessKey: getEnv("BLOB_ACCESS_KEY", ""),
		BlobSecretKey: getEnv("BLOB_SECRET_KEY", ""),
		BlobUseSSL:    getEnvBool("BLOB_USE_SSL", false),
		BlobPublicURL: getEnv("BLOB_PUBLIC_URL", ""),

		WorkerTypes:           getEnvList("WORKER_TYPES", []string{"kb_index", "segment_make", "audio_finalize"}),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 5),
		LeaseSeconds:          getEnvInt("LEASE_SECONDS", 300),
		HeartbeatInterval:     getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		ReaperInterval:        getEnvDuration("REAPER_INTERVAL", 60*time.Second),
		ReaperEnabled:         getEnvBool("REAPER_ENABLED", true),
		PollInterval:          getEnvDuration("POLL_INTERVAL", 5*time.Second),
		DrainDeadline:         getEnvDuration("DRAIN_DEADLINE", 30*time.Second),
		JobBackoffBase:        getEnvDuration("JOB_BACKOFF_BASE", 30*time.Second),
		JobBackoffMax:         getEnvDuration("JOB_BACKOFF_MAX", 30*time.Minute),
		JobDefaultMaxAttempts: getEnvInt("JOB_DEFAULT_MAX_ATTEMPTS", 3),

		ChunkMinTokens:     getEnvInt("CHUNK_MIN_TOKENS", 300),
		ChunkMaxTokens:     getEnvInt("CHUNK_MAX_TOKENS", 800),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 50),

		EmbeddingDim:        getEnvInt("EMBEDDING_DIM", 1024),
		EmbeddingCacheSize:  getEnvInt64("EMBEDDING_CACHE_SIZE", 10000),
		EmbeddingBatchSize:  getEnvInt("EMBEDDING_BATCH_SIZE", 32),
		EmbeddingBatchDelay: getEnvDuration("EMBEDDING_BATCH_DELAY", 500*time.Millisecond),

		RAGTopK:            getEnvInt("RAG_TOP_K", 12),
		RAGVectorThreshold: getEnvFloat("RAG_VECTOR_THRESHOLD", 0.3),
		RAGTimeout:         getEnvDuration("RAG_TIMEOUT", 2*time.Second),

		NormalizerBin:     getEnv("NORMALIZER_BIN", "ffmpeg"),
		NormalizerTimeout: getEnvDuration("NORMALIZER_TIMEOUT", 300*time.Second),

		FutureYearOffset: getEnvInt("FUTURE_YEAR_OFFSET", 500),

		ToneMinAcceptableScore: getEnvInt("TONE_MIN_ACCEPTABLE_SCORE", 70),

		PlayoutSignTTL: getEnvDuration("PLAYOUT_SIGN_TTL", time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
