// Package config loads and validates stream client configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
)

// Config captures all client configuration knobs loaded via Viper.
type Config struct {
	Stream    StreamConfig    `mapstructure:"stream"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	History   HistoryConfig   `mapstructure:"history"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// StreamConfig names the status endpoint and the session used to reach it.
type StreamConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	ScopeID     string        `mapstructure:"scope_id"`
	Token       string        `mapstructure:"token"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// ReconnectConfig mirrors channel.ReconnectPolicy.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// HistoryConfig bounds the per-manager event history.
type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

// ServerConfig controls the debug HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig selects where spans are exported: "none" or "stdout".
type TracingConfig struct {
	Exporter string `mapstructure:"exporter"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STATUSSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	policy := channel.DefaultReconnectPolicy()
	v.SetDefault("stream.endpoint", "")
	v.SetDefault("stream.scope_id", "")
	v.SetDefault("stream.token", "")
	v.SetDefault("stream.dial_timeout", 10*time.Second)
	v.SetDefault("stream.user_agent", "realtime-status-stream/0.1")
	v.SetDefault("reconnect.base_delay", policy.Base)
	v.SetDefault("reconnect.max_delay", policy.Max)
	v.SetDefault("reconnect.max_attempts", policy.MaxAttempts)
	v.SetDefault("history.size", channel.DefaultHistorySize)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.exporter", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint is required")
	}
	u, err := url.Parse(c.Stream.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("stream.endpoint must be an absolute URL: %q", c.Stream.Endpoint)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Stream.DialTimeout <= 0 {
		return fmt.Errorf("stream.dial_timeout must be > 0")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be >= reconnect.base_delay")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be > 0")
	}
	if c.History.Size <= 0 {
		return fmt.Errorf("history.size must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be none or stdout, got %q", c.Tracing.Exporter)
	}
	return nil
}

// Session returns the configured scope and credential.
func (c Config) Session() channel.Session {
	return channel.Session{ScopeID: c.Stream.ScopeID, Token: c.Stream.Token}
}

// Policy converts the reconnect block into a channel.ReconnectPolicy.
func (c Config) Policy() channel.ReconnectPolicy {
	return channel.ReconnectPolicy{
		Base:        c.Reconnect.BaseDelay,
		Max:         c.Reconnect.MaxDelay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}
