package database

import (
	"errors"
	"time"
)

// Config holds journal database settings.
type Config struct {
	DatabasePath    string        `json:"database_path" mapstructure:"database_path" env:"PATH"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections" env:"MAX_CONNECTIONS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// DefaultConfig keeps the journal next to the binary. SQLite copes well
// with ten pooled readers and one writer.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/habitat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string with WAL, foreign keys and a
// busy timeout enabled.
func (c *Config) DSN() string {
	if c.DatabasePath == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}
