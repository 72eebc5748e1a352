// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"strings"

	"github.com/fwdslsh/dispatch/internal/api/handlers"
	"github.com/fwdslsh/dispatch/internal/core"
)

// AuthValidator is the external capability the Session Core consumes to
// vet a bearer token (spec §1: "the Session Core consumes an
// AuthValidator capability"). The concrete key store behind it lives
// outside this repository's scope.
type AuthValidator interface {
	Validate(token string) bool
}

// StaticTokenValidator implements AuthValidator by comparing against a
// single configured token. Empty token disables auth, appropriate only
// for loopback-only deployments (spec §6.4 AuthConfig.Token).
type StaticTokenValidator struct {
	Token string
}

// Validate reports whether token matches the configured value. If no
// token is configured, every request is accepted.
func (v StaticTokenValidator) Validate(token string) bool {
	if v.Token == "" {
		return true
	}
	return token == v.Token
}

// Auth returns middleware that requires a bearer token accepted by
// validator on every request it wraps. Unauthenticated requests get 401
// per spec §7's Unauthorized entry.
func Auth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if !validator.Validate(token) {
				handlers.WriteError(w, http.StatusUnauthorized, handlers.ErrUnauthorized, core.ErrUnauthorized.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, falling back to a raw header value for clients that send the
// token unprefixed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return h
}
