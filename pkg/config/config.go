// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all CleanFlow configuration.
type Config struct {
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Models    ModelsConfig    `yaml:"models"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig for the HTTP server.
type ServerConfig struct {
	Port          int      `yaml:"port"`
	Host          string   `yaml:"host"`
	MaxUploadSize string   `yaml:"max_upload_size"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	PreviewRows   int           `yaml:"preview_rows"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ModelsConfig controls the model registry: quotas, eviction, system
// fallback API keys by model kind, and the classifier kinds to register.
type ModelsConfig struct {
	DefaultQuota  int                       `yaml:"default_quota"`
	TenantQuotas  map[string]int            `yaml:"tenant_quotas"`
	IdleTimeout   time.Duration             `yaml:"idle_timeout"`
	SweepInterval time.Duration             `yaml:"sweep_interval"`
	SystemKeys    map[string]string         `yaml:"system_keys"`
	Classifiers   map[string]ClassifierSpec `yaml:"classifiers"`
}

// ClassifierSpec declares one constructible model kind. An endpoint makes
// it a remote classifier; rules make it a local keyword classifier.
type ClassifierSpec struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Rules    []RuleSpec    `yaml:"rules"`
	Fallback string        `yaml:"fallback"`
}

// RuleSpec is one keyword rule of a local classifier.
type RuleSpec struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

// IngestConfig bounds uploads.
type IngestConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
	MaxRows  int   `yaml:"max_rows"`
}

// StorageConfig selects and configures the durable result-store backend.
type StorageConfig struct {
	// Backend is one of: local, s3, redis, none.
	Backend string `yaml:"backend"`

	LocalDir string `yaml:"local_dir"`

	S3 S3StorageConfig `yaml:"s3"`

	Redis RedisStorageConfig `yaml:"redis"`
}

// S3StorageConfig for the S3 backend.
type S3StorageConfig struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// RedisStorageConfig for the Redis backend.
type RedisStorageConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	cleanflowDir := filepath.Join(homeDir, ".cleanflow")

	return &Config{
		Version: 1,
		Server: ServerConfig{
			Port:          8080,
			Host:          "localhost",
			MaxUploadSize: "5MB",
			CORSOrigins:   []string{"*"},
		},
		Session: SessionConfig{
			PreviewRows:   100,
			IdleTimeout:   15 * time.Minute,
			SweepInterval: time.Minute,
		},
		Models: ModelsConfig{
			DefaultQuota:  4,
			IdleTimeout:   10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Ingest: IngestConfig{
			MaxBytes: 5 * 1024 * 1024,
			MaxRows:  10000,
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: filepath.Join(cleanflowDir, "results"),
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	// Load from paths in order; later overrides earlier.
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/cleanflow/config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".cleanflow", "config.yaml"))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".cleanflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Server
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if src.Server.MaxUploadSize != "" {
		m.config.Server.MaxUploadSize = src.Server.MaxUploadSize
	}
	if len(src.Server.CORSOrigins) > 0 {
		m.config.Server.CORSOrigins = src.Server.CORSOrigins
	}

	// Session
	if src.Session.PreviewRows != 0 {
		m.config.Session.PreviewRows = src.Session.PreviewRows
	}
	if src.Session.IdleTimeout != 0 {
		m.config.Session.IdleTimeout = src.Session.IdleTimeout
	}
	if src.Session.SweepInterval != 0 {
		m.config.Session.SweepInterval = src.Session.SweepInterval
	}

	// Models
	if src.Models.DefaultQuota != 0 {
		m.config.Models.DefaultQuota = src.Models.DefaultQuota
	}
	if len(src.Models.TenantQuotas) > 0 {
		m.config.Models.TenantQuotas = src.Models.TenantQuotas
	}
	if src.Models.IdleTimeout != 0 {
		m.config.Models.IdleTimeout = src.Models.IdleTimeout
	}
	if src.Models.SweepInterval != 0 {
		m.config.Models.SweepInterval = src.Models.SweepInterval
	}
	if len(src.Models.SystemKeys) > 0 {
		m.config.Models.SystemKeys = src.Models.SystemKeys
	}
	if len(src.Models.Classifiers) > 0 {
		m.config.Models.Classifiers = src.Models.Classifiers
	}

	// Ingest
	if src.Ingest.MaxBytes != 0 {
		m.config.Ingest.MaxBytes = src.Ingest.MaxBytes
	}
	if src.Ingest.MaxRows != 0 {
		m.config.Ingest.MaxRows = src.Ingest.MaxRows
	}

	// Storage
	if src.Storage.Backend != "" {
		m.config.Storage.Backend = src.Storage.Backend
	}
	if src.Storage.LocalDir != "" {
		m.config.Storage.LocalDir = src.Storage.LocalDir
	}
	if src.Storage.S3.Bucket != "" {
		m.config.Storage.S3 = src.Storage.S3
	}
	if src.Storage.Redis.Address != "" {
		m.config.Storage.Redis = src.Storage.Redis
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("CLEANFLOW_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			m.config.Server.Port = port
		}
	}

	if v := os.Getenv("CLEANFLOW_STORAGE_BACKEND"); v != "" {
		m.config.Storage.Backend = v
	}

	if v := os.Getenv("CLEANFLOW_S3_BUCKET"); v != "" {
		m.config.Storage.S3.Bucket = v
	}

	if v := os.Getenv("CLEANFLOW_REDIS_ADDRESS"); v != "" {
		m.config.Storage.Redis.Address = v
	}

	if v := os.Getenv("CLEANFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".cleanflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
