package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Daemon.PollInterval != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.Daemon.PollInterval)
	}
	if cfg.Repository.Root == "" {
		t.Error("expected a non-empty default repository root")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	if err := os.WriteFile(path, []byte(`
[database]
driver = "postgres"
postgres_dsn = "postgres://localhost/labflow"

[daemon]
poll_interval = "5s"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.PostgresDSN != "postgres://localhost/labflow" {
		t.Errorf("unexpected dsn: %s", cfg.Database.PostgresDSN)
	}
	if cfg.Daemon.PollInterval != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.Daemon.PollInterval)
	}
	// Defaults preserved for fields the TOML didn't set.
	if cfg.Repository.Root == "" {
		t.Error("default repository root should be preserved")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LABFLOW_DATABASE_DRIVER", "postgres")
	t.Setenv("LABFLOW_POSTGRES_DSN", "postgres://env/labflow")
	t.Setenv("LABFLOW_POLL_INTERVAL", "750ms")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.PostgresDSN != "postgres://env/labflow" {
		t.Errorf("unexpected dsn: %s", cfg.Database.PostgresDSN)
	}
	if cfg.Daemon.PollInterval != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.Daemon.PollInterval)
	}
}
