package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config represents the recordstore process configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Postgres  PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Migration MigrationConfig `mapstructure:"migration" yaml:"migration"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// DatabaseConfig selects the database and its change logging
type DatabaseConfig struct {
	Name                    string `mapstructure:"name" yaml:"name"`
	Backend                 string `mapstructure:"backend" yaml:"backend"`
	SyncEnabled             bool   `mapstructure:"sync_enabled" yaml:"sync_enabled"`
	SaveSyncedRemoteActions *bool  `mapstructure:"save_synced_remote_actions" yaml:"save_synced_remote_actions"`
	DropOldTables           bool   `mapstructure:"drop_old_tables" yaml:"drop_old_tables"`
}

// SaveRemote returns save_synced_remote_actions, which defaults to true
func (c DatabaseConfig) SaveRemote() bool {
	return c.SaveSyncedRemoteActions == nil || *c.SaveSyncedRemoteActions
}

// PostgresConfig represents the PostgreSQL backend connection
type PostgresConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections int    `mapstructure:"min_connections" yaml:"min_connections"`
}

// RedisConfig represents the Redis change notification sink
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// MigrationConfig tunes split by user migrations
type MigrationConfig struct {
	BatchSize        int     `mapstructure:"batch_size" yaml:"batch_size"`
	BatchesPerSecond float64 `mapstructure:"batches_per_second" yaml:"batches_per_second"`
}

// ServerConfig represents the admin HTTP server
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}
	// the process opens no table definitions of its own
	if c.Database.DropOldTables {
		return errors.New("database.drop_old_tables is not supported by the recordstore process")
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.Host == "" {
			return errors.New("postgres.host is required")
		}
		if c.Postgres.Database == "" {
			return errors.New("postgres.database is required")
		}
		if c.Postgres.User == "" {
			return errors.New("postgres.user is required")
		}
		if c.Postgres.MinConnections > c.Postgres.MaxConnections {
			return errors.New("postgres.min_connections must not exceed postgres.max_connections")
		}
	default:
		return fmt.Errorf("database.backend must be one of: %s, %s", BackendMemory, BackendPostgres)
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required when redis is enabled")
	}
	if c.Migration.BatchSize <= 0 {
		return errors.New("migration.batch_size must be positive")
	}
	if c.Migration.BatchesPerSecond < 0 {
		return errors.New("migration.batches_per_second must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return errors.New("logging.format must be one of: json, console")
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Name:    "recordstore",
			Backend: BackendMemory,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "recordstore",
			User:           "recordstore",
			MaxConnections: 20,
			MinConnections: 2,
		},
		Redis: RedisConfig{
			Host:    "localhost",
			Port:    6379,
			Channel: "recordstore:events",
		},
		Migration: MigrationConfig{
			BatchSize: 10000,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
