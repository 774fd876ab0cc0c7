// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers both halves of this
// repository: the client SDK/CLI (service URLs, session directory, logging)
// and the local development stub server (port, database path, rate limiting,
// CORS).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the stub
// server.
type CORSConfig struct {
	AllowedOrigins []string
}

// ClientConfig holds the settings the SDK and CLI consume.
type ClientConfig struct {
	APIBaseURL  string // CHAT_API_URL — REST surface of the chat service
	RealtimeURL string // CHAT_REALTIME_URL — websocket feed endpoint
	SessionDir  string // CHAT_SESSION_DIR — where the login session lives; "" = default
}

// StubConfig holds the settings for the local development stub server.
type StubConfig struct {
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	DBPath            string        // SQLite path
	RateRPS           float64       // tokens per second (>= 0)
	RateBurst         int           // bucket size (>= 1)
	CORS              CORSConfig
}

// Config holds all configuration values for the application.
type Config struct {
	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	Client ClientConfig
	Stub   StubConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Client: ClientConfig{
			APIBaseURL:  getenv("CHAT_API_URL", "http://localhost:8080"),
			RealtimeURL: getenv("CHAT_REALTIME_URL", "ws://localhost:8080/realtime"),
			SessionDir:  getenv("CHAT_SESSION_DIR", ""),
		},

		Stub: StubConfig{
			Port:              getenv("PORT", "8080"),
			ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
			ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
			WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
			IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
			MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
			GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
			DBPath:            getenv("DB_PATH", "chatstub.db"),
			RateRPS:           getfloat("RATE_RPS", 25.0),
			RateBurst:         getint("RATE_BURST", 50),
			CORS: CORSConfig{
				AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
			},
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.Stub.GinMode {
	case "debug", "release", "test":
	default:
		cfg.Stub.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Client.APIBaseURL) == "" {
		return cfg, errors.New("CHAT_API_URL must not be empty")
	}
	if strings.TrimSpace(cfg.Client.RealtimeURL) == "" {
		return cfg, errors.New("CHAT_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(cfg.Stub.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.Stub.ReadTimeout <= 0 || cfg.Stub.ReadHeaderTimeout <= 0 || cfg.Stub.WriteTimeout <= 0 || cfg.Stub.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.Stub.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Stub.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Stub.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.Stub.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
