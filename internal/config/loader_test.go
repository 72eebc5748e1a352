// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func TestLoader_Load_ValidConfig(t *testing.T) {
	configContent := `{
		version: "1.0"
		project: {
			name: "dispatch-dev"
		}
		server: {
			port: 8080
			host: "127.0.0.1"
		}
		store: {
			path: "dispatch.sqlite"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "dispatch-dev", cfg.Project.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "dispatch.sqlite", cfg.Store.Path)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	configContent := `{
		// This is a comment
		version: "1.0"

		# Hash comment
		project: {
			name: dispatch-dev
		}
		server: {
			port: 7777,
		}
	}`

	cfg := loadFromString(t, configContent)
	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "dispatch-dev", cfg.Project.Name)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestLoader_Load_MissingFile(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "does-not-exist.hjson"))
	assert.Error(t, err)
}

func TestLoader_Load_InvalidHJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{ this is not valid hjson :::"), 0o644))

	loader := NewLoader()
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_LoadWithDefaults_AppliesAllDefaults(t *testing.T) {
	cfg := loadFromString(t, `{ version: "1.0" }`)
	applyDefaults(cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "dispatch.sqlite", cfg.Store.Path)
	assert.Equal(t, ".", cfg.Workspaces.Root)
	assert.Equal(t, 30_000, cfg.Adapters.StartTimeoutMs)
	assert.Equal(t, 5_000, cfg.Adapters.CloseGraceMs)
	assert.Equal(t, 1<<20, cfg.Hub.PreStartBufferBytes)
	assert.Equal(t, 4<<20, cfg.Hub.SubscriberWindowBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "dispatch", cfg.Project.Name)
}

func TestLoader_LoadWithDefaults_PreservesExplicitValues(t *testing.T) {
	configContent := `{
		version: "1.0"
		server: { port: 9000 }
		hub: { preStartBufferBytes: 2048 }
	}`
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.hjson")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o644))

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2048, cfg.Hub.PreStartBufferBytes)
	// Untouched fields still pick up defaults.
	assert.Equal(t, 30_000, cfg.Adapters.StartTimeoutMs)
}

func TestLoader_FindConfig_PrefersHJSON(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dispatch.hjson"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dispatch.json"), []byte("{}"), 0o644))

	loader := NewLoader()
	found, err := loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, found, "dispatch.hjson")
}

func TestLoader_FindConfig_NoneFound(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	loader := NewLoader()
	_, err = loader.FindConfig()
	assert.Error(t, err)
}
