// Package config loads server configuration from an optional YAML file with
// ARMATURE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Stream    StreamConfig    `yaml:"stream"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TransportConfig struct {
	Mode string `yaml:"mode"` // "http" or "stdio"
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"` // "sqlite", "postgres" or "badger"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	BadgerPath  string `yaml:"badger_path"`
}

type BlobConfig struct {
	Backend    string `yaml:"backend"` // "fs" or "gcs"
	FSRoot     string `yaml:"fs_root"`
	GCSBucket  string `yaml:"gcs_bucket"`
	GCSKeyPath string `yaml:"gcs_key_path"`
}

type JobsConfig struct {
	MaxAttempts int   `yaml:"max_attempts"`
	LeaseMs     int64 `yaml:"lease_ms"`
	Workers     int   `yaml:"workers"`
	PollMs      int   `yaml:"poll_ms"`
}

type CheckoutConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type StreamConfig struct {
	PollMs      int `yaml:"poll_ms"`
	KeepaliveMs int `yaml:"keepalive_ms"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Transport: TransportConfig{Mode: "http"},
		Auth:      AuthConfig{Enabled: false},
		Storage:   StorageConfig{Backend: "sqlite", SQLitePath: "armature.db", BadgerPath: "armature-docs"},
		Blob:      BlobConfig{Backend: "fs", FSRoot: "artifacts"},
		Jobs:      JobsConfig{MaxAttempts: 3, LeaseMs: 30_000, Workers: 2, PollMs: 1000},
		Checkout:  CheckoutConfig{TTLSeconds: 120},
		Stream:    StreamConfig{PollMs: 1000, KeepaliveMs: 500},
		Log:       LogConfig{Level: "info"},
	}

	if path := os.Getenv("ARMATURE_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("ARMATURE_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("ARMATURE_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ARMATURE_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if mode := os.Getenv("ARMATURE_TRANSPORT_MODE"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if enabled := os.Getenv("ARMATURE_AUTH_ENABLED"); enabled != "" {
		parsed, err := strconv.ParseBool(enabled)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ARMATURE_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = parsed
	}
	if backend := os.Getenv("ARMATURE_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("ARMATURE_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = path
	}
	if dsn := os.Getenv("ARMATURE_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("ARMATURE_BADGER_PATH"); path != "" {
		cfg.Storage.BadgerPath = path
	}
	if backend := os.Getenv("ARMATURE_BLOB_BACKEND"); backend != "" {
		cfg.Blob.Backend = backend
	}
	if root := os.Getenv("ARMATURE_BLOB_ROOT"); root != "" {
		cfg.Blob.FSRoot = root
	}
	if bucket := os.Getenv("ARMATURE_GCS_BUCKET"); bucket != "" {
		cfg.Blob.GCSBucket = bucket
	}
	if keyPath := os.Getenv("ARMATURE_GCS_KEY_PATH"); keyPath != "" {
		cfg.Blob.GCSKeyPath = keyPath
	}
	if workers := os.Getenv("ARMATURE_JOB_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ARMATURE_JOB_WORKERS: %w", err)
		}
		cfg.Jobs.Workers = n
	}
	if level := os.Getenv("ARMATURE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("unknown transport mode %q", c.Transport.Mode)
	}
	switch c.Storage.Backend {
	case "sqlite", "postgres", "badger":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres backend requires a DSN")
	}
	switch c.Blob.Backend {
	case "fs", "gcs":
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}
	if c.Blob.Backend == "gcs" && c.Blob.GCSBucket == "" {
		return fmt.Errorf("gcs blob backend requires a bucket")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
