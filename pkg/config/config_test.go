package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout.Std() != 30*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 30s", cfg.Server.ReadTimeout.Std())
	}
	if cfg.Selection.MaxIterations <= 0 {
		t.Errorf("Selection.MaxIterations = %d, want positive", cfg.Selection.MaxIterations)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9999
  readTimeout: 5s
selection:
  evalTimeout: 250ms
redis:
  cacheTTL: 2m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout.Std() != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5s", cfg.Server.ReadTimeout.Std())
	}
	if cfg.Selection.EvalTimeout.Std() != 250*time.Millisecond {
		t.Errorf("Selection.EvalTimeout = %v, want 250ms", cfg.Selection.EvalTimeout.Std())
	}
	if cfg.Redis.CacheTTL.Std() != 2*time.Minute {
		t.Errorf("Redis.CacheTTL = %v, want 2m", cfg.Redis.CacheTTL.Std())
	}
	// Fields absent from the file keep their defaults.
	if cfg.Server.WriteTimeout.Std() != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want 30s", cfg.Server.WriteTimeout.Std())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
server:
  readTimeout: not-a-duration
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded with malformed duration")
	}
}

func TestLoadRejectsInvalidSelection(t *testing.T) {
	path := writeConfigFile(t, `
selection:
  tolerance: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded with negative tolerance")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded with missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SS_SERVER_PORT", "7070")
	t.Setenv("SS_STATS_PATH", "/var/lib/stats.ssx")
	t.Setenv("SS_SELECTION_DEFAULT_TARGET", "750")
	t.Setenv("SS_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Stats.Path != "/var/lib/stats.ssx" {
		t.Errorf("Stats.Path = %q", cfg.Stats.Path)
	}
	if cfg.Selection.DefaultTarget != 750 {
		t.Errorf("Selection.DefaultTarget = %v, want 750", cfg.Selection.DefaultTarget)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "a:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}
