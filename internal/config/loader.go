package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file and environment variables.
// The file is optional; a missing file leaves the defaults in place.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v := viper.New()
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
		}
	}

	// environment variables take precedence over the file
	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse parses YAML configuration on top of the defaults. Environment
// variables are not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envStrings and envInts map environment variables to the fields they
// override. Unset or empty variables leave the field alone.
func envStrings(cfg *Config) map[string]*string {
	return map[string]*string{
		"RECORDSTORE_DB_NAME": &cfg.Database.Name,
		"DATABASE_HOST":       &cfg.Postgres.Host,
		"DATABASE_NAME":       &cfg.Postgres.Database,
		"DATABASE_USER":       &cfg.Postgres.User,
		"DATABASE_PASSWORD":   &cfg.Postgres.Password,
		"REDIS_HOST":          &cfg.Redis.Host,
		"REDIS_PASSWORD":      &cfg.Redis.Password,
		"LOG_LEVEL":           &cfg.Logging.Level,
	}
}

func envInts(cfg *Config) map[string]*int {
	return map[string]*int{
		"DATABASE_PORT": &cfg.Postgres.Port,
		"REDIS_PORT":    &cfg.Redis.Port,
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	for name, field := range envStrings(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	// malformed numbers are ignored
	for name, field := range envInts(cfg) {
		if n, err := strconv.Atoi(os.Getenv(name)); err == nil {
			*field = n
		}
	}
}
