// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory. It
// looks for dispatch.hjson first, then dispatch.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"dispatch.hjson",
		"dispatch.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for dispatch.hjson, dispatch.json)")
}

// applyDefaults sets default values for missing config fields, matching
// spec §6.4's stated defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7777
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "dispatch.sqlite"
	}
	if cfg.Workspaces.Root == "" {
		cfg.Workspaces.Root = "."
	}

	if cfg.Adapters.StartTimeoutMs == 0 {
		cfg.Adapters.StartTimeoutMs = 30_000
	}
	if cfg.Adapters.CloseGraceMs == 0 {
		cfg.Adapters.CloseGraceMs = 5_000
	}

	if cfg.Hub.PreStartBufferBytes == 0 {
		cfg.Hub.PreStartBufferBytes = 1 << 20
	}
	if cfg.Hub.SubscriberWindowBytes == 0 {
		cfg.Hub.SubscriberWindowBytes = 4 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Project.Name == "" {
		cfg.Project.Name = "dispatch"
	}
}
