// Package config collects the relay's tunables from the environment,
// with an optional YAML file overlay via CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      string
	RedisAddr string
	BaseURL   string
	WSBaseURL string

	AllowedOrigins []string

	IdleGracePeriod time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration

	SendBufferSize int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func Default() Config {
	return Config{
		Port:            "8080",
		BaseURL:         "http://localhost:5173",
		WSBaseURL:       "ws://localhost:8080",
		AllowedOrigins:  []string{"*"},
		IdleGracePeriod: 30 * time.Second,
		SessionTTL:      24 * time.Hour,
		SweepInterval:   time.Minute,
		SendBufferSize:  256,
		PingInterval:    25 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  1 << 20,
	}
}

// fileConfig mirrors Config for the YAML overlay; durations are written
// as strings ("30s", "24h").
type fileConfig struct {
	Port            *string  `yaml:"port"`
	RedisAddr       *string  `yaml:"redis_addr"`
	BaseURL         *string  `yaml:"base_url"`
	WSBaseURL       *string  `yaml:"ws_base_url"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	IdleGracePeriod *string  `yaml:"idle_grace_period"`
	SessionTTL      *string  `yaml:"session_ttl"`
	SweepInterval   *string  `yaml:"sweep_interval"`
	SendBufferSize  *int     `yaml:"send_buffer_size"`
	PingInterval    *string  `yaml:"ping_interval"`
	PongWait        *string  `yaml:"pong_wait"`
	WriteWait       *string  `yaml:"write_wait"`
	MaxMessageSize  *int64   `yaml:"max_message_size"`
}

// Load builds the config from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.RedisAddr != nil {
		c.RedisAddr = *fc.RedisAddr
	}
	if fc.BaseURL != nil {
		c.BaseURL = *fc.BaseURL
	}
	if fc.WSBaseURL != nil {
		c.WSBaseURL = *fc.WSBaseURL
	}
	if fc.AllowedOrigins != nil {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.SendBufferSize != nil {
		c.SendBufferSize = *fc.SendBufferSize
	}
	if fc.MaxMessageSize != nil {
		c.MaxMessageSize = *fc.MaxMessageSize
	}
	for _, d := range []struct {
		dst *time.Duration
		src *string
		key string
	}{
		{&c.IdleGracePeriod, fc.IdleGracePeriod, "idle_grace_period"},
		{&c.SessionTTL, fc.SessionTTL, "session_ttl"},
		{&c.SweepInterval, fc.SweepInterval, "sweep_interval"},
		{&c.PingInterval, fc.PingInterval, "ping_interval"},
		{&c.PongWait, fc.PongWait, "pong_wait"},
		{&c.WriteWait, fc.WriteWait, "write_wait"},
	} {
		if d.src == nil {
			continue
		}
		dur, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = dur
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.BaseURL, "BASE_URL")
	setString(&c.WSBaseURL, "WS_BASE_URL")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.AllowedOrigins = origins
	}
	for _, d := range []struct {
		dst *time.Duration
		env string
	}{
		{&c.IdleGracePeriod, "IDLE_GRACE_PERIOD"},
		{&c.SessionTTL, "SESSION_TTL"},
		{&c.SweepInterval, "SWEEP_INTERVAL"},
		{&c.PingInterval, "PING_INTERVAL"},
		{&c.PongWait, "PONG_WAIT"},
		{&c.WriteWait, "WRITE_WAIT"},
	} {
		if v := os.Getenv(d.env); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", d.env, err)
			}
			*d.dst = dur
		}
	}
	if v := os.Getenv("SEND_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SEND_BUFFER_SIZE: %w", err)
		}
		c.SendBufferSize = n
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
