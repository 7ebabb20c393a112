package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "REDIS_ADDR", "BASE_URL", "WS_BASE_URL",
		"CORS_ORIGINS", "IDLE_GRACE_PERIOD", "SESSION_TTL", "SWEEP_INTERVAL",
		"PING_INTERVAL", "PONG_WAIT", "WRITE_WAIT", "SEND_BUFFER_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.RedisAddr != "" {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.IdleGracePeriod != 30*time.Second || cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected duration defaults %#v", cfg)
	}
	if cfg.SendBufferSize != 256 {
		t.Fatalf("unexpected buffer size %d", cfg.SendBufferSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("CORS_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("IDLE_GRACE_PERIOD", "5s")
	t.Setenv("SEND_BUFFER_SIZE", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" || cfg.RedisAddr != "localhost:6380" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.IdleGracePeriod != 5*time.Second || cfg.SendBufferSize != 16 {
		t.Fatalf("unexpected overrides %#v", cfg)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
port: "7070"
redis_addr: localhost:6381
idle_grace_period: 90s
allowed_origins:
  - https://editor.test
send_buffer_size: 64
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" || cfg.RedisAddr != "localhost:6381" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.IdleGracePeriod != 90*time.Second || cfg.SendBufferSize != 64 {
		t.Fatalf("unexpected overlay %#v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://editor.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	// Untouched fields keep their defaults.
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", cfg.SessionTTL)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`port: "7070"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("expected env to win, got %q", cfg.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("idle_grace_period: nonsense"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad duration")
	}

	clearEnv(t)
	t.Setenv("IDLE_GRACE_PERIOD", "nonsense")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad env duration")
	}

	clearEnv(t)
	t.Setenv("SEND_BUFFER_SIZE", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad buffer size")
	}
}
