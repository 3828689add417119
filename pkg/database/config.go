package database

import (
	"fmt"
	"time"
)

// Config holds SQLite connection settings for the session directory.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig returns settings sized for a single-node deployment.
func DefaultConfig() *Config {
	return &Config{
		Path:            "./classhub.db",
		MaxConnections:  10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// Validate checks the configuration before any connection is opened.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.ConnMaxLifetime <= 0 {
		return fmt.Errorf("connection max lifetime must be positive")
	}
	if c.ConnMaxIdleTime <= 0 {
		return fmt.Errorf("connection max idle time must be positive")
	}
	if c.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}
	return nil
}

// DSN builds the sqlite3 connection string with the pragmas that must
// be set at open time.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		c.Path, c.BusyTimeout.Milliseconds())
}
