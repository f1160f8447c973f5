package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Database.Backend)
	assert.True(t, cfg.Database.SaveRemote())
	assert.Equal(t, "recordstore:events", cfg.Redis.Channel)
	assert.Equal(t, 10000, cfg.Migration.BatchSize)
}

func TestParse(t *testing.T) {
	data := []byte(`
database:
  name: sensors
  backend: postgres
  sync_enabled: true
  save_synced_remote_actions: false
postgres:
  host: db.internal
  database: sensors
  user: app
  max_connections: 8
  min_connections: 1
migration:
  batches_per_second: 2.5
server:
  port: 9000
  read_timeout: 3s
logging:
  format: console
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "sensors", cfg.Database.Name)
	assert.Equal(t, BackendPostgres, cfg.Database.Backend)
	assert.True(t, cfg.Database.SyncEnabled)
	assert.False(t, cfg.Database.SaveRemote())
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 2.5, cfg.Migration.BatchesPerSecond)
	assert.Equal(t, 10000, cfg.Migration.BatchSize)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"missing name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"drop old tables", func(c *Config) { c.Database.DropOldTables = true }, "drop_old_tables"},
		{"unknown backend", func(c *Config) { c.Database.Backend = "sqlite" }, "database.backend"},
		{"postgres without host", func(c *Config) {
			c.Database.Backend = BackendPostgres
			c.Postgres.Host = ""
		}, "postgres.host"},
		{"pool bounds", func(c *Config) {
			c.Database.Backend = BackendPostgres
			c.Postgres.MinConnections = 30
		}, "min_connections"},
		{"redis without host", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Host = ""
		}, "redis.host"},
		{"zero batch size", func(c *Config) { c.Migration.BatchSize = 0 }, "batch_size"},
		{"negative rate", func(c *Config) { c.Migration.BatchesPerSecond = -1 }, "batches_per_second"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  name: fromfile
  sync_enabled: true
redis:
  enabled: true
  host: cache.internal
  channel: custom
logging:
  level: debug
`), 0o600))

	t.Setenv("RECORDSTORE_DB_NAME", "fromenv")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Database.Name)
	assert.True(t, cfg.Database.SyncEnabled)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "custom", cfg.Redis.Channel)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Database, cfg.Database)
}

func TestParse_RejectsDropOldTables(t *testing.T) {
	_, err := Parse([]byte("database:\n  name: sensors\n  drop_old_tables: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop_old_tables")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unclosed"))
	assert.Error(t, err)
}
