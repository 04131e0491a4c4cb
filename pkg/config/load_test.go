package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratchet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:8420"
  read_timeout: "60s"

store:
  backend: sqlite
  sqlite:
    path: /var/lib/ratchet/policy.db
    wal_mode: false
  op_timeout: 2s

audit:
  backend: memory

retention:
  plan_default_days: 14

aging:
  interval: 10m
  delete_empty_copies: true
  deleter:
    type: webhook
    webhook_url: https://deleter.example.com/intents

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server.listen_address", cfg.Server.ListenAddress, "0.0.0.0:8420"},
		{"server.read_timeout", cfg.Server.ReadTimeout, 60 * time.Second},
		{"server.write_timeout", cfg.Server.WriteTimeout, DefaultWriteTimeout},
		{"store.sqlite.path", cfg.Store.SQLite.Path, "/var/lib/ratchet/policy.db"},
		{"store.sqlite.wal_mode", cfg.Store.SQLite.WALMode, false},
		{"store.op_timeout", cfg.Store.OpTimeout, 2 * time.Second},
		{"audit.backend", cfg.Audit.Backend, "memory"},
		{"audit.sqlite.wal_mode", cfg.Audit.SQLite.WALMode, true},
		{"jobs.coalesce", cfg.Jobs.Coalesce, true},
		{"retention.plan_default_days", cfg.Retention.PlanDefaultDays, uint32(14)},
		{"retention.cas_max_retries", cfg.Retention.CASMaxRetries, DefaultCASMaxRetries},
		{"aging.enabled", cfg.Aging.Enabled, true},
		{"aging.interval", cfg.Aging.Interval, 10 * time.Minute},
		{"aging.delete_empty_copies", cfg.Aging.DeleteEmptyCopies, true},
		{"aging.deleter.type", cfg.Aging.Deleter.Type, "webhook"},
		{"telemetry.logging.level", cfg.Telemetry.Logging.Level, "debug"},
		{"telemetry.metrics.enabled", cfg.Telemetry.Metrics.Enabled, true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"malformed yaml", "server: [", "failed to parse"},
		{"invalid backend", "store:\n  backend: postgres\n", "store.backend"},
		{"invalid cron", "aging:\n  schedule: \"every tuesday\"\n", "aging.schedule"},
		{"webhook without url", "aging:\n  deleter:\n    type: webhook\n", "aging.deleter.webhook_url"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n", "telemetry.logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("LoadConfig() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig() error = %v, want os.ErrNotExist", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1111\"\naging:\n  enabled: true\n")

	t.Setenv("RATCHET_SERVER_LISTEN_ADDRESS", "0.0.0.0:2222")
	t.Setenv("RATCHET_AGING_ENABLED", "false")
	t.Setenv("RATCHET_AGING_INTERVAL", "90s")
	t.Setenv("RATCHET_RETENTION_CAS_MAX_RETRIES", "7")
	t.Setenv("RATCHET_STORE_OP_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:2222" {
		t.Errorf("listen_address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Aging.Enabled {
		t.Error("aging.enabled should be overridden to false")
	}
	if cfg.Aging.Interval != 90*time.Second {
		t.Errorf("aging.interval = %v", cfg.Aging.Interval)
	}
	if cfg.Retention.CASMaxRetries != 7 {
		t.Errorf("cas_max_retries = %d", cfg.Retention.CASMaxRetries)
	}
	if cfg.Store.OpTimeout != DefaultStoreOpTimeout {
		t.Errorf("unparseable override changed op_timeout to %v", cfg.Store.OpTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("RATCHET_STORE_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Store.Backend != "memory" || cfg.Audit.Backend != DefaultBackend {
		t.Errorf("backends = %q / %q", cfg.Store.Backend, cfg.Audit.Backend)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	t.Setenv("RATCHET_AGING_DELETER_TYPE", "shredder")

	if _, err := LoadConfigWithEnvOverrides(""); err == nil {
		t.Error("invalid override should fail validation")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if !cfg.Store.SQLite.WALMode || !cfg.Aging.Enabled || cfg.Aging.DeleteEmptyCopies {
		t.Errorf("boolean defaults wrong: %+v", cfg)
	}
	if cfg.Store.SQLite.Path != DefaultStoreSQLitePath || cfg.Audit.SQLite.Path != DefaultAuditSQLitePath {
		t.Errorf("sqlite paths = %q / %q", cfg.Store.SQLite.Path, cfg.Audit.SQLite.Path)
	}

	// Callers must not be able to mutate the shared bucket defaults.
	cfg.Telemetry.Metrics.SweepDurationBuckets[0] = 42
	if DefaultSweepDurationBuckets[0] == 42 {
		t.Error("Default() shares DefaultSweepDurationBuckets")
	}
}
