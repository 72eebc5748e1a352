// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Version: "1.0",
		Project: ProjectConfig{Name: "test-project"},
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Store: StoreConfig{Path: "dispatch.sqlite"},
	}
}

func TestValidator_Validate_ValidConfig(t *testing.T) {
	validator := NewValidator()
	err := validator.Validate(validConfig())
	assert.NoError(t, err)
}

func TestValidator_Validate_MissingVersion(t *testing.T) {
	cfg := validConfig()
	cfg.Version = ""

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestValidator_Validate_MissingStorePath(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Path = ""

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.path")
}

func TestValidator_Validate_PortOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"negative", -1},
		{"too large", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			validator := NewValidator()
			err := validator.Validate(cfg)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidator_Validate_PortZeroAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.NoError(t, err)
}

func TestValidator_Validate_TLSModeInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLS.Mode = "bogus"

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.tls.mode")
}

func TestValidator_Validate_TLSModeValidValues(t *testing.T) {
	for _, mode := range []string{"", "file", "tailscale"} {
		cfg := validConfig()
		cfg.Server.TLS.Mode = mode
		if mode == "file" {
			cfg.Server.TLS.Cert = "cert.pem"
			cfg.Server.TLS.Key = "key.pem"
		}

		validator := NewValidator()
		err := validator.Validate(cfg)
		assert.NoError(t, err, "mode %q should be valid", mode)
	}
}

func TestValidator_Validate_FileTLSRequiresBothCertAndKey(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLS.Mode = "file"
	cfg.Server.TLS.Cert = "cert.pem"
	cfg.Server.TLS.Key = ""

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.tls")
}

func TestValidator_Validate_AdaptersNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Adapters.StartTimeoutMs = -1

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "adapters.startTimeoutMs")
}

func TestValidator_Validate_HubNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Hub.SubscriberWindowBytes = -1

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hub.subscriberWindowBytes")
}

func TestValidator_Validate_LoggingLevelInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidator_Validate_LoggingFormatInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidator_Validate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: -5},
	}

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.Error(t, err)

	ve, ok := err.(*ValidationError)
	if assert.True(t, ok) {
		assert.GreaterOrEqual(t, len(ve.Errors), 3)
	}
}

func TestValidationError_Add(t *testing.T) {
	ve := &ValidationError{}
	assert.True(t, ve.IsEmpty())

	ve.Add("field", "message")
	assert.False(t, ve.IsEmpty())
	assert.Equal(t, "field: message", ve.Error())
}
