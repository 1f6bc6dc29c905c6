// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the hexcache service configuration.
//
// Configuration comes from a YAML file, layered under a small set of
// environment overrides for deployment knobs. All durations use Go
// duration syntax ("5m", "30s").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// maxConfigSize caps the config file read; a config larger than this is
// a mistake, not a configuration.
const maxConfigSize = 1 << 20

var configValidate = validator.New()

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// ReadTimeout bounds request header+body reads.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gt=0"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// UpstreamConfig points at the remote tile source. An empty BaseURL
// selects the built-in in-memory backend, which is how demos and tests
// run without a server.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// CacheConfig tunes region staleness and load depth.
type CacheConfig struct {
	// MaxAge is how long a loaded region counts as fresh.
	MaxAge time.Duration `yaml:"max_age" validate:"gt=0"`

	// MaxDepth is the default fetch depth below a region center.
	MaxDepth int `yaml:"max_depth" validate:"gte=1,lte=10"`

	// BackgroundRefreshInterval drives the periodic re-check of the
	// current center's region. Zero disables it.
	BackgroundRefreshInterval time.Duration `yaml:"background_refresh_interval" validate:"gte=0"`
}

// StorageConfig configures the embedded tile database.
type StorageConfig struct {
	// Path is the BadgerDB directory. Required unless InMemory.
	Path string `yaml:"path"`

	// InMemory disables disk persistence.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites enables synchronous writes.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// JSON selects JSON output over text.
	JSON bool `yaml:"json"`

	// Dir, when set, additionally writes logs to a file under this
	// directory.
	Dir string `yaml:"dir"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   ":8090",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			MaxAge:                    5 * time.Minute,
			MaxDepth:                  3,
			BackgroundRefreshInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path:       "data/tiles",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads, overlays and validates the configuration.
//
// # Inputs
//
//   - path: YAML file path. Empty selects the defaults.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: Non-nil on read, parse or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return Config{}, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigSize {
			return Config{}, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its declared constraints.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("invalid configuration: storage.path is required unless storage.in_memory")
	}
	return nil
}

// applyEnvOverrides overlays the deployment knobs that commonly differ
// between environments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEXCACHE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("HEXCACHE_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("HEXCACHE_DATA_DIR"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("HEXCACHE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
