package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with defaults: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Client.APIBaseURL != "http://localhost:8080" {
		t.Errorf("APIBaseURL = %q", cfg.Client.APIBaseURL)
	}
	if cfg.Client.RealtimeURL != "ws://localhost:8080/realtime" {
		t.Errorf("RealtimeURL = %q", cfg.Client.RealtimeURL)
	}
	if cfg.Stub.Port != "8080" || cfg.Stub.GinMode != "release" {
		t.Errorf("stub defaults = %q %q", cfg.Stub.Port, cfg.Stub.GinMode)
	}
	if cfg.Stub.RateBurst < 1 {
		t.Errorf("RateBurst = %d", cfg.Stub.RateBurst)
	}
}

func TestLoad_EnvOverridesAndNormalization(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("CHAT_API_URL", "https://chat.example.com")
	t.Setenv("GIN_MODE", "bogus")
	t.Setenv("READ_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want normalized warn", cfg.LogLevel)
	}
	if cfg.Client.APIBaseURL != "https://chat.example.com" {
		t.Errorf("APIBaseURL = %q", cfg.Client.APIBaseURL)
	}
	if cfg.Stub.GinMode != "release" {
		t.Errorf("GinMode = %q, want fallback release", cfg.Stub.GinMode)
	}
	if cfg.Stub.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Stub.ReadTimeout)
	}
	if got := cfg.Stub.CORS.AllowedOrigins; len(got) != 2 || got[0] != "https://a.example" {
		t.Errorf("CORS origins = %v", got)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"LOG_LEVEL":    "verbose",
		"CHAT_API_URL": " ",
		"DB_PATH":      " ",
		"RATE_BURST":   "0",
	}
	for key, bad := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, bad)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q must fail validation", key, bad)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Setenv("X_STR", "v")
	t.Setenv("X_INT", "42")
	t.Setenv("X_FLOAT", "2.5")
	t.Setenv("X_BOOL", "yes")
	t.Setenv("X_DUR", "90s")

	if getenv("X_STR", "d") != "v" || getenv("X_MISSING", "d") != "d" {
		t.Error("getenv")
	}
	if getint("X_INT", 0) != 42 || getint("X_STR", 7) != 7 {
		t.Error("getint")
	}
	if getfloat("X_FLOAT", 0) != 2.5 {
		t.Error("getfloat")
	}
	if !getbool("X_BOOL", false) || getbool("X_MISSING", true) != true {
		t.Error("getbool")
	}
	if getdur("X_DUR", 0) != 90*time.Second {
		t.Error("getdur")
	}
	if got := splitCSV("a, b,,c "); len(got) != 3 {
		t.Errorf("splitCSV = %v", got)
	}
}
