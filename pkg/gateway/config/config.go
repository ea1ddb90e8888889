package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full gateway configuration, loaded from CASAVOX_* env vars.
type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64

	// Storage backend: "postgres", "sqlite" or "memory".
	StoreBackend string
	PostgresDSN  string
	SQLitePath   string

	// Optional redis dialog-state cache; empty addr disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Vector search
	QdrantURL          string
	QdrantAPIKey       string
	PropertyCollection string
	RetrievalK         int

	// Embeddings / assistant LLM (OpenAI-compatible)
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	EmbeddingModel string
	ChatModel      string

	// Voice upstreams
	TranscribeModel string
	SpeechModel     string
	SpeechVoice     string

	// Call mode
	CallChunkInterval   time.Duration
	CallFlushIdle       time.Duration
	CallFlushMax        time.Duration
	CallMaxSessionTime  time.Duration
	CallPingInterval    time.Duration
	CallWriteTimeout    time.Duration
	CallMaxMessageBytes int64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	StreamMaxDuration   time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("CASAVOX_ADDR", ":8080"),
		CORSAllowedOrigins:            make(map[string]struct{}),
		MaxBodyBytes:                  envInt64Or("CASAVOX_MAX_BODY_BYTES", 1<<20), // 1 MiB
		StoreBackend:                  envOr("CASAVOX_STORE_BACKEND", "postgres"),
		PostgresDSN:                   envOr("CASAVOX_POSTGRES_DSN", ""),
		SQLitePath:                    envOr("CASAVOX_SQLITE_PATH", "casavox.db"),
		RedisAddr:                     envOr("CASAVOX_REDIS_ADDR", ""),
		RedisPassword:                 envOr("CASAVOX_REDIS_PASSWORD", ""),
		RedisDB:                       envIntOr("CASAVOX_REDIS_DB", 0),
		QdrantURL:                     envOr("CASAVOX_QDRANT_URL", ""),
		QdrantAPIKey:                  envOr("CASAVOX_QDRANT_API_KEY", ""),
		PropertyCollection:            envOr("CASAVOX_PROPERTY_COLLECTION", "properties_seo_v1"),
		RetrievalK:                    envIntOr("CASAVOX_RETRIEVAL_K", 8),
		OpenAIBaseURL:                 envOr("CASAVOX_OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:                  envOr("OPENAI_API_KEY", ""),
		EmbeddingModel:                envOr("CASAVOX_EMBEDDING_MODEL", "text-embedding-3-small"),
		ChatModel:                     envOr("CASAVOX_CHAT_MODEL", "gpt-4o-mini"),
		TranscribeModel:               envOr("CASAVOX_TRANSCRIBE_MODEL", "whisper-1"),
		SpeechModel:                   envOr("CASAVOX_SPEECH_MODEL", "tts-1"),
		SpeechVoice:                   envOr("CASAVOX_SPEECH_VOICE", "alloy"),
		CallChunkInterval:             envDurationOr("CASAVOX_CALL_CHUNK_INTERVAL", 850*time.Millisecond),
		CallFlushIdle:                 envDurationOr("CASAVOX_CALL_FLUSH_IDLE", 900*time.Millisecond),
		CallFlushMax:                  envDurationOr("CASAVOX_CALL_FLUSH_MAX", 1600*time.Millisecond),
		CallMaxSessionTime:            envDurationOr("CASAVOX_CALL_MAX_DURATION", 2*time.Hour),
		CallPingInterval:              envDurationOr("CASAVOX_CALL_PING_INTERVAL", 20*time.Second),
		CallWriteTimeout:              envDurationOr("CASAVOX_CALL_WRITE_TIMEOUT", 5*time.Second),
		CallMaxMessageBytes:           envInt64Or("CASAVOX_CALL_MAX_MESSAGE_BYTES", 512*1024),
		ReadHeaderTimeout:             envDurationOr("CASAVOX_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("CASAVOX_READ_TIMEOUT", 0),
		HandlerTimeout:                envDurationOr("CASAVOX_HANDLER_TIMEOUT", 30*time.Second),
		StreamMaxDuration:             envDurationOr("CASAVOX_STREAM_MAX_DURATION", 2*time.Minute),
		ShutdownGracePeriod:           envDurationOr("CASAVOX_SHUTDOWN_GRACE", 10*time.Second),
		UpstreamConnectTimeout:        envDurationOr("CASAVOX_UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("CASAVOX_UPSTREAM_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("CASAVOX_CORS_ALLOWED_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.StoreBackend {
	case "postgres", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("invalid CASAVOX_STORE_BACKEND %q (want postgres, sqlite or memory)", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "postgres" && cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("CASAVOX_POSTGRES_DSN is required when CASAVOX_STORE_BACKEND=postgres")
	}
	if cfg.RetrievalK <= 0 {
		return Config{}, fmt.Errorf("CASAVOX_RETRIEVAL_K must be positive")
	}
	if cfg.CallFlushIdle >= cfg.CallFlushMax {
		return Config{}, fmt.Errorf("CASAVOX_CALL_FLUSH_IDLE must be shorter than CASAVOX_CALL_FLUSH_MAX")
	}

	return cfg, nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
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

func envInt64Or(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	// Accept bare milliseconds for convenience.
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
