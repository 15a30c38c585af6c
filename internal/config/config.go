// Package config handles loading and parsing of docstage configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for docstage.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Staging StagingConfig `yaml:"staging"`
	Journal JournalConfig `yaml:"journal"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text, json.
	Format string `yaml:"format"`
}

// StagingConfig holds the on-disk staging engine settings.
type StagingConfig struct {
	// RootDir is the base directory under which all tenant batch data lives.
	// The in-progress and completed areas must share this volume so the
	// commit rename stays atomic.
	RootDir string `yaml:"root_dir"`
	// SubBatchMaxDocuments is the per-sub-batch-file document count cap
	// before the writer rotates to a new file.
	SubBatchMaxDocuments int `yaml:"sub_batch_max_documents"`
	// ExternalizeThresholdBytes is the field-value size above which inline
	// document data is written out to a loose attachment file.
	ExternalizeThresholdBytes int `yaml:"externalize_threshold_bytes"`
	// ValidateDocuments enables JSON-schema validation of each uploaded
	// document.
	ValidateDocuments bool `yaml:"validate_documents"`
	// StaleCleanupEnabled enables sweeping of abandoned in-progress
	// directories on startup and on a periodic timer.
	StaleCleanupEnabled bool `yaml:"stale_cleanup_enabled"`
	// StaleAgeSeconds is the age beyond which an in-progress directory owned
	// by this instance's dead predecessors is considered abandoned.
	StaleAgeSeconds int `yaml:"stale_age_seconds"`
}

// JournalConfig holds the SQLite commit journal settings.
type JournalConfig struct {
	// Enabled controls whether successful commits are recorded.
	Enabled bool `yaml:"enabled"`
	// Path is the filesystem path for the SQLite journal database file.
	Path string `yaml:"path"`
}

// ArchiveConfig holds the optional S3 archive mirror settings.
type ArchiveConfig struct {
	// Enabled controls whether completed batches are mirrored to S3.
	Enabled bool `yaml:"enabled"`
	// Bucket is the upstream S3 bucket name.
	Bucket string `yaml:"bucket"`
	// Region is the AWS region of the upstream bucket.
	Region string `yaml:"region"`
	// Prefix is the optional key prefix for all mirrored batch content.
	Prefix string `yaml:"prefix"`
	// EndpointURL overrides the S3 endpoint (for MinIO or localstack).
	EndpointURL string `yaml:"endpoint_url"`
	// UsePathStyle forces path-style addressing (required by most
	// S3-compatible stores).
	UsePathStyle bool `yaml:"use_path_style"`
	// AccessKeyID and SecretAccessKey are optional static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to docstage.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "docstage.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "docstage.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Staging: StagingConfig{
			RootDir:                   "./data/batches",
			SubBatchMaxDocuments:      1000,
			ExternalizeThresholdBytes: 65536,
			ValidateDocuments:         true,
			StaleCleanupEnabled:       true,
			StaleAgeSeconds:           86400,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "./data/journal.db",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Staging.RootDir == "" {
		cfg.Staging.RootDir = "./data/batches"
	}
	if cfg.Staging.SubBatchMaxDocuments == 0 {
		cfg.Staging.SubBatchMaxDocuments = 1000
	}
	if cfg.Staging.ExternalizeThresholdBytes == 0 {
		cfg.Staging.ExternalizeThresholdBytes = 65536
	}
	if cfg.Staging.StaleAgeSeconds == 0 {
		cfg.Staging.StaleAgeSeconds = 86400
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "./data/journal.db"
	}
	if cfg.Archive.Enabled && cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
}
