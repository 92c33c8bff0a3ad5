package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
stream:
  endpoint: wss://status.example.com/ws
  scope_id: biz-42
  token: secret
  dial_timeout: 3s
reconnect:
  base_delay: 500ms
  max_delay: 10s
  max_attempts: 7
history:
  size: 20
server:
  enabled: true
  port: 9090
logging:
  development: false
  level: warn
tracing:
  exporter: stdout
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Stream.Endpoint != "wss://status.example.com/ws" {
		t.Fatalf("unexpected endpoint %q", cfg.Stream.Endpoint)
	}
	if got := cfg.Session(); got != (channel.Session{ScopeID: "biz-42", Token: "secret"}) {
		t.Fatalf("unexpected session %+v", got)
	}
	if cfg.Stream.DialTimeout != 3*time.Second {
		t.Fatalf("expected dial timeout 3s, got %v", cfg.Stream.DialTimeout)
	}
	want := channel.ReconnectPolicy{Base: 500 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 7}
	if got := cfg.Policy(); got != want {
		t.Fatalf("expected policy %+v, got %+v", want, got)
	}
	if cfg.History.Size != 20 {
		t.Fatalf("expected history size 20, got %d", cfg.History.Size)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9090 {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Tracing.Exporter != "stdout" {
		t.Fatalf("expected stdout span exporter, got %q", cfg.Tracing.Exporter)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "stream:\n  endpoint: ws://localhost:9000/ws\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Policy(); got != channel.DefaultReconnectPolicy() {
		t.Fatalf("expected default policy, got %+v", got)
	}
	if cfg.History.Size != channel.DefaultHistorySize {
		t.Fatalf("expected default history size, got %d", cfg.History.Size)
	}
	if cfg.Server.Enabled {
		t.Fatal("expected server disabled by default")
	}
	if cfg.Session().Valid() {
		t.Fatal("expected no session by default")
	}
	if cfg.Tracing.Exporter != "none" {
		t.Fatalf("expected spans dropped by default, got %q", cfg.Tracing.Exporter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Stream: StreamConfig{Endpoint: "wss://status.example.com/ws", DialTimeout: time.Second},
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
		History: HistoryConfig{Size: 50},
		Server:  ServerConfig{Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing endpoint", mutate: func(c *Config) { c.Stream.Endpoint = "" }, want: "stream.endpoint is required"},
		{name: "relative endpoint", mutate: func(c *Config) { c.Stream.Endpoint = "/ws" }, want: "absolute URL"},
		{name: "http endpoint", mutate: func(c *Config) { c.Stream.Endpoint = "https://status.example.com" }, want: "scheme"},
		{name: "dial timeout", mutate: func(c *Config) { c.Stream.DialTimeout = 0 }, want: "stream.dial_timeout"},
		{name: "base delay", mutate: func(c *Config) { c.Reconnect.BaseDelay = 0 }, want: "reconnect.base_delay"},
		{name: "max below base", mutate: func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }, want: "reconnect.max_delay"},
		{name: "attempts", mutate: func(c *Config) { c.Reconnect.MaxAttempts = 0 }, want: "reconnect.max_attempts"},
		{name: "history", mutate: func(c *Config) { c.History.Size = 0 }, want: "history.size"},
		{name: "tracing exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, want: "tracing.exporter"},
		{
			name: "server port",
			mutate: func(c *Config) {
				c.Server.Enabled = true
				c.Server.Port = 0
			},
			want: "server.port",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
