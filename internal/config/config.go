// Package config loads application settings from the environment and an
// optional .env file using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting for the classhub server.
type Config struct {
	// HTTPHost is the listen address for the HTTP/websocket server.
	HTTPHost string `mapstructure:"HTTP_HOST"`
	// HTTPPort is the listen port.
	HTTPPort int `mapstructure:"HTTP_PORT"`
	// HTTPReadTimeout / HTTPWriteTimeout bound request handling.
	HTTPReadTimeout  time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`

	// DatabasePath is the SQLite file backing the session directory.
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	// DatabaseTimeout bounds directory write operations.
	DatabaseTimeout time.Duration `mapstructure:"DATABASE_TIMEOUT"`

	// PingInterval / ReadTimeout / WriteTimeout drive the websocket
	// heartbeat and delivery deadlines.
	PingInterval time.Duration `mapstructure:"WS_PING_INTERVAL"`
	ReadTimeout  time.Duration `mapstructure:"WS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"WS_WRITE_TIMEOUT"`

	// PresenceTimeout bounds member-count queries; on expiry the count
	// degrades to zero.
	PresenceTimeout time.Duration `mapstructure:"PRESENCE_TIMEOUT"`

	// LogLevel is one of debug, info, warn, error. LogFormat is text or
	// json.
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from
// the environment. Env vars override .env; missing .env is ignored.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_READ_TIMEOUT", "30s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "30s")
	v.SetDefault("DATABASE_PATH", "./classhub.db")
	v.SetDefault("DATABASE_TIMEOUT", "30s")
	v.SetDefault("WS_PING_INTERVAL", "30s")
	v.SetDefault("WS_READ_TIMEOUT", "60s")
	v.SetDefault("WS_WRITE_TIMEOUT", "10s")
	v.SetDefault("PRESENCE_TIMEOUT", "2s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTPHost == "" {
		return fmt.Errorf("config: HTTP_HOST cannot be empty")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT must be between 1 and 65535")
	}
	if c.HTTPReadTimeout <= 0 || c.HTTPWriteTimeout <= 0 {
		return fmt.Errorf("config: HTTP timeouts must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: DATABASE_PATH cannot be empty")
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("config: DATABASE_TIMEOUT must be positive")
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("config: websocket intervals must be positive")
	}
	if c.ReadTimeout <= c.PingInterval {
		return fmt.Errorf("config: WS_READ_TIMEOUT must exceed WS_PING_INTERVAL")
	}
	if c.PresenceTimeout <= 0 {
		return fmt.Errorf("config: PRESENCE_TIMEOUT must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}
