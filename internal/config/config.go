package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	JWTSecret   string
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string
	TokenExpiry time.Duration

	DatabaseURL string
	LogLevel    string
	LogFile     string

	// RedisURL switches the event bus to Redis streams and enables the push
	// notification queue. Empty keeps everything in process.
	RedisURL     string
	EventsStream string

	BootstrapMessageLimit int
	SyncRateLimit         int
	CORSAllowOrigins      []string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:                  3000,
		GinMode:               "release",
		TokenExpiry:           7 * 24 * time.Hour,
		DatabaseURL:           "file:teamsync.db",
		LogLevel:              "info",
		EventsStream:          "teamsync.events",
		BootstrapMessageLimit: 50,
		SyncRateLimit:         120,
		CORSAllowOrigins:      []string{"*"},
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.JWTSecret = env.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = env.Getenv("MASTER_SECRET")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := strings.TrimSpace(env.Getenv("DATABASE_URL")); raw != "" {
		cfg.DatabaseURL = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	cfg.LogFile = env.Getenv("LOG_FILE")

	cfg.RedisURL = strings.TrimSpace(env.Getenv("REDIS_URL"))
	if raw := env.Getenv("EVENTS_STREAM"); raw != "" {
		cfg.EventsStream = raw
	}

	if raw := env.Getenv("BOOTSTRAP_MESSAGE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid BOOTSTRAP_MESSAGE_LIMIT")
		}
		cfg.BootstrapMessageLimit = n
	}
	if raw := env.Getenv("SYNC_RATE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid SYNC_RATE_LIMIT")
		}
		cfg.SyncRateLimit = n
	}

	if raw := env.Getenv("CORS_ALLOW_ORIGINS"); raw != "" {
		var origins []string
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("invalid CORS_ALLOW_ORIGINS")
		}
		cfg.CORSAllowOrigins = origins
	}

	return cfg, nil
}
