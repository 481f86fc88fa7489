package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Session.PreviewRows != 100 {
		t.Errorf("Expected 100 preview rows, got %d", cfg.Session.PreviewRows)
	}
	if cfg.Models.DefaultQuota != 4 {
		t.Errorf("Expected quota 4, got %d", cfg.Models.DefaultQuota)
	}
	if cfg.Ingest.MaxBytes != 5*1024*1024 {
		t.Errorf("Expected 5MB upload cap, got %d", cfg.Ingest.MaxBytes)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("Expected local backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Telemetry.Enabled {
		t.Errorf("Telemetry must be off by default")
	}
}

func TestMergeOverridesNonZero(t *testing.T) {
	m := NewManager()

	m.merge(&Config{
		Server:  ServerConfig{Port: 3000},
		Session: SessionConfig{IdleTimeout: time.Hour},
		Models: ModelsConfig{
			TenantQuotas: map[string]int{"vip": 8},
		},
		Storage: StorageConfig{Backend: "s3", S3: S3StorageConfig{Bucket: "artifacts"}},
	})

	cfg := m.Get()
	if cfg.Server.Port != 3000 {
		t.Errorf("Port not merged: %d", cfg.Server.Port)
	}
	if cfg.Session.IdleTimeout != time.Hour {
		t.Errorf("IdleTimeout not merged: %v", cfg.Session.IdleTimeout)
	}
	if cfg.Models.TenantQuotas["vip"] != 8 {
		t.Errorf("TenantQuotas not merged: %v", cfg.Models.TenantQuotas)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.S3.Bucket != "artifacts" {
		t.Errorf("Storage not merged: %+v", cfg.Storage)
	}

	// Untouched values keep their defaults.
	if cfg.Server.Host != "localhost" {
		t.Errorf("Zero fields must not clobber defaults: %s", cfg.Server.Host)
	}
	if cfg.Models.DefaultQuota != 4 {
		t.Errorf("Default quota clobbered: %d", cfg.Models.DefaultQuota)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
server:
  port: 9999
models:
  default_quota: 2
  classifiers:
    category:
      fallback: misc
      rules:
        - label: grocery
          keywords: [safeway]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m := NewManager()
	if err := m.loadFile(path); err != nil {
		t.Fatalf("loadFile failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Server.Port != 9999 {
		t.Errorf("Port not loaded: %d", cfg.Server.Port)
	}
	if cfg.Models.DefaultQuota != 2 {
		t.Errorf("Quota not loaded: %d", cfg.Models.DefaultQuota)
	}
	spec, ok := cfg.Models.Classifiers["category"]
	if !ok || spec.Fallback != "misc" || len(spec.Rules) != 1 {
		t.Errorf("Classifier spec not loaded: %+v", spec)
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0644)

	m := NewManager()
	if err := m.loadFile(path); err == nil {
		t.Errorf("Expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLEANFLOW_PORT", "4444")
	t.Setenv("CLEANFLOW_STORAGE_BACKEND", "redis")
	t.Setenv("CLEANFLOW_REDIS_ADDRESS", "cache:6379")
	t.Setenv("CLEANFLOW_OTLP_ENDPOINT", "otel:4317")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Server.Port != 4444 {
		t.Errorf("CLEANFLOW_PORT ignored: %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Address != "cache:6379" {
		t.Errorf("Redis env ignored: %+v", cfg.Storage)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "otel:4317" {
		t.Errorf("OTLP env ignored: %+v", cfg.Telemetry)
	}
}

func TestEnvIgnoresMalformedPort(t *testing.T) {
	t.Setenv("CLEANFLOW_PORT", "not-a-number")

	m := NewManager()
	m.loadEnv()
	if m.Get().Server.Port != 8080 {
		t.Errorf("Malformed port must keep default, got %d", m.Get().Server.Port)
	}
}
