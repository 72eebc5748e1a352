// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateServer(cfg, errs)
	v.validateStore(cfg, errs)
	v.validateAdapters(cfg, errs)
	v.validateHub(cfg, errs)
	v.validateLogging(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Version == "" {
		errs.Add("version", "is required")
	}
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}

	switch cfg.Server.TLS.Mode {
	case "", "file", "tailscale":
	default:
		errs.Add("server.tls.mode", fmt.Sprintf("invalid mode '%s', must be one of: file, tailscale", cfg.Server.TLS.Mode))
	}

	if cfg.Server.TLS.Mode == "file" {
		if (cfg.Server.TLS.Cert == "") != (cfg.Server.TLS.Key == "") {
			errs.Add("server.tls", "both cert and key must be specified together")
		}
	}
}

func (v *Validator) validateStore(cfg *Config, errs *ValidationError) {
	if cfg.Store.Path == "" {
		errs.Add("store.path", "is required")
	}
}

func (v *Validator) validateAdapters(cfg *Config, errs *ValidationError) {
	if cfg.Adapters.StartTimeoutMs < 0 {
		errs.Add("adapters.startTimeoutMs", "must be positive")
	}
	if cfg.Adapters.CloseGraceMs < 0 {
		errs.Add("adapters.closeGraceMs", "must be positive")
	}
}

func (v *Validator) validateHub(cfg *Config, errs *ValidationError) {
	if cfg.Hub.PreStartBufferBytes < 0 {
		errs.Add("hub.preStartBufferBytes", "must be positive")
	}
	if cfg.Hub.SubscriberWindowBytes < 0 {
		errs.Add("hub.subscriberWindowBytes", "must be positive")
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}

	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{
			"json": true,
			"text": true,
		}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}
