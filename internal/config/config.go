// Package config loads daemon and CLI configuration: defaults, then a
// TOML file, then environment overrides (env wins).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon/CLI configuration.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Repository RepositoryConfig `toml:"repository"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Observer   ObserverConfig   `toml:"observer"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// SQLitePath is the local database file path, used when Driver is "sqlite".
	SQLitePath string `toml:"sqlite_path"`
	// PostgresDSN is the connection string, used when Driver is "postgres".
	PostgresDSN string `toml:"postgres_dsn"`
}

// RepositoryConfig configures the filesystem content repository.
type RepositoryConfig struct {
	// Root is the directory workflow staging and permanent folders live under.
	Root string `toml:"root"`
}

// DaemonConfig configures the burst-execution poll loop.
type DaemonConfig struct {
	// PollInterval is how often the daemon checks for steps ready to resume.
	PollInterval time.Duration `toml:"poll_interval"`
}

// ObserverConfig configures OTEL tracing/metrics export.
type ObserverConfig struct {
	Enabled         bool   `toml:"enabled"`
	OTLPEndpoint    string `toml:"otlp_endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	base := filepath.Join(home, ".labflow")
	return Config{
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(base, "labflow.db"),
		},
		Repository: RepositoryConfig{
			Root: filepath.Join(base, "repository"),
		},
		Daemon: DaemonConfig{
			PollInterval: 2 * time.Second,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "labflow.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("LABFLOW_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LABFLOW_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LABFLOW_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("LABFLOW_REPOSITORY_ROOT"); v != "" {
		cfg.Repository.Root = v
	}
	if v := os.Getenv("LABFLOW_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Daemon.PollInterval = d
		}
	}
	if v := os.Getenv("LABFLOW_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.OTLPEndpoint = v
	}
	if v := os.Getenv("LABFLOW_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
