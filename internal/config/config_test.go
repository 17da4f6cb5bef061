package config

import (
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"JWT_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.DatabaseURL != "file:teamsync.db" {
		t.Fatalf("unexpected default database url %q", cfg.DatabaseURL)
	}
	if cfg.BootstrapMessageLimit != 50 || cfg.SyncRateLimit != 120 {
		t.Fatalf("unexpected sync defaults: %d messages, %d req/min", cfg.BootstrapMessageLimit, cfg.SyncRateLimit)
	}
	if len(cfg.CORSAllowOrigins) != 1 || cfg.CORSAllowOrigins[0] != "*" {
		t.Fatalf("unexpected default origins %v", cfg.CORSAllowOrigins)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected redis disabled by default")
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_MasterSecretFallback(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "legacy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.JWTSecret != "legacy" {
		t.Fatalf("expected MASTER_SECRET fallback, got %q", cfg.JWTSecret)
	}
}

func TestLoadConfigFromEnv_PortOverride(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"JWT_SECRET": "x", "PORT": "1234"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}

func TestLoadConfigFromEnv_SyncOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{
		"JWT_SECRET":              "x",
		"DATABASE_URL":            "file:/tmp/t.db",
		"REDIS_URL":               "redis://localhost:6379/0",
		"BOOTSTRAP_MESSAGE_LIMIT": "10",
		"SYNC_RATE_LIMIT":         "0",
		"CORS_ALLOW_ORIGINS":      "https://a.example, https://b.example",
		"TOKEN_EXPIRY_SECONDS":    "60",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DatabaseURL != "file:/tmp/t.db" || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected store settings %+v", cfg)
	}
	if cfg.BootstrapMessageLimit != 10 || cfg.SyncRateLimit != 0 {
		t.Fatalf("unexpected sync settings %+v", cfg)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowOrigins)
	}
	if cfg.TokenExpiry != time.Minute {
		t.Fatalf("expected 1m expiry, got %v", cfg.TokenExpiry)
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	for _, env := range []mapEnv{
		{"JWT_SECRET": "x", "BOOTSTRAP_MESSAGE_LIMIT": "0"},
		{"JWT_SECRET": "x", "SYNC_RATE_LIMIT": "fast"},
		{"JWT_SECRET": "x", "TLS_CERT_FILE": "cert.pem"},
		{"JWT_SECRET": "x", "CORS_ALLOW_ORIGINS": " , "},
	} {
		if _, err := LoadConfigFromEnv(env); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}
