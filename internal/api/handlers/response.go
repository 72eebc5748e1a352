// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fwdslsh/dispatch/internal/core"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

// Error codes, one per sentinel in core.Err* (spec §7's error taxonomy
// table), plus the handler-local codes that never originate in core.
const (
	ErrBadRequest           = "BAD_REQUEST"
	ErrNotFound             = "NOT_FOUND"
	ErrInternalError        = "INTERNAL_ERROR"
	ErrConflict             = "CONFLICT"
	ErrUnknownKind          = "UNKNOWN_KIND"
	ErrNoSuchRun            = "NO_SUCH_RUN"
	ErrNotLive              = "NOT_LIVE"
	ErrNotResumable         = "NOT_RESUMABLE"
	ErrAdapterMisconfigured = "ADAPTER_MISCONFIGURED"
	ErrAdapterTimeout       = "ADAPTER_TIMEOUT"
	ErrAdapterCrashed       = "ADAPTER_CRASHED"
	ErrStoreUnavailable     = "STORE_UNAVAILABLE"
	ErrSlowSubscriber       = "SLOW_SUBSCRIBER"
	ErrUnauthorized         = "UNAUTHORIZED"
	ErrNoSuchWorkspace      = "NO_SUCH_WORKSPACE"
)

// statusFor maps a core sentinel error to the HTTP status spec §7
// assigns it. Unrecognized errors default to 500.
func statusFor(err error) (status int, code string) {
	switch {
	case errors.Is(err, core.ErrUnknownKind):
		return http.StatusBadRequest, ErrUnknownKind
	case errors.Is(err, core.ErrNoSuchRun):
		return http.StatusNotFound, ErrNoSuchRun
	case errors.Is(err, core.ErrNoSuchWorkspace):
		return http.StatusNotFound, ErrNoSuchWorkspace
	case errors.Is(err, core.ErrNotLive):
		return http.StatusConflict, ErrNotLive
	case errors.Is(err, core.ErrNotResumable):
		return http.StatusBadRequest, ErrNotResumable
	case errors.Is(err, core.ErrAdapterMisconfigured):
		return http.StatusBadRequest, ErrAdapterMisconfigured
	case errors.Is(err, core.ErrAdapterTimeout):
		return http.StatusGatewayTimeout, ErrAdapterTimeout
	case errors.Is(err, core.ErrAdapterCrashed):
		return http.StatusConflict, ErrAdapterCrashed
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrStoreUnavailable
	case errors.Is(err, core.ErrSlowSubscriber):
		return http.StatusConflict, ErrSlowSubscriber
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, ErrUnauthorized
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, ErrConflict
	default:
		return http.StatusInternalServerError, ErrInternalError
	}
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := Response{
		Data: data,
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteErrorWithDetails writes an error response with details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteCoreError inspects err against the core sentinel vocabulary and
// writes the matching status/code, falling back to 500/INTERNAL_ERROR
// for anything unrecognized.
func WriteCoreError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	WriteError(w, status, code, err.Error())
}
