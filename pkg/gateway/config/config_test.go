package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("CASAVOX_STORE_BACKEND", "memory")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q, want :8080", cfg.Addr)
	}
	if cfg.CallChunkInterval != 850*time.Millisecond {
		t.Fatalf("chunk interval=%v, want 850ms", cfg.CallChunkInterval)
	}
	if cfg.CallFlushIdle != 900*time.Millisecond || cfg.CallFlushMax != 1600*time.Millisecond {
		t.Fatalf("flush windows=%v/%v, want 900ms/1600ms", cfg.CallFlushIdle, cfg.CallFlushMax)
	}
	if cfg.PropertyCollection == "" {
		t.Fatal("property collection default missing")
	}
}

func TestLoadFromEnv_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("CASAVOX_STORE_BACKEND", "postgres")
	t.Setenv("CASAVOX_POSTGRES_DSN", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for missing postgres dsn")
	}
}

func TestLoadFromEnv_InvalidBackend(t *testing.T) {
	t.Setenv("CASAVOX_STORE_BACKEND", "dynamo")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadFromEnv_BareMillisecondDurations(t *testing.T) {
	t.Setenv("CASAVOX_STORE_BACKEND", "memory")
	t.Setenv("CASAVOX_CALL_FLUSH_IDLE", "700")
	t.Setenv("CASAVOX_CALL_FLUSH_MAX", "1.5s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.CallFlushIdle != 700*time.Millisecond {
		t.Fatalf("idle=%v, want 700ms", cfg.CallFlushIdle)
	}
	if cfg.CallFlushMax != 1500*time.Millisecond {
		t.Fatalf("max=%v, want 1.5s", cfg.CallFlushMax)
	}
}

func TestLoadFromEnv_CORSOrigins(t *testing.T) {
	t.Setenv("CASAVOX_STORE_BACKEND", "memory")
	t.Setenv("CASAVOX_CORS_ALLOWED_ORIGINS", "https://example.com, https://www.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("origins=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://example.com"]; !ok {
		t.Fatal("missing https://example.com")
	}
}
