// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/fwdslsh/dispatch/internal/api/handlers"
	"github.com/fwdslsh/dispatch/internal/api/middleware"
	"github.com/fwdslsh/dispatch/internal/api/socket"
	"github.com/fwdslsh/dispatch/internal/api/version"
	"github.com/fwdslsh/dispatch/internal/storage"
	"github.com/gorilla/mux"
)

// ServerConfig holds configuration for the API server (spec §6.4).
type ServerConfig struct {
	Host string
	Port int
	TLS  TLSConfig
}

// Dependencies holds every collaborator the facade (C8) needs to
// translate wire requests into C7 calls.
type Dependencies struct {
	Orchestrator handlers.SessionOrchestrator
	Sessions     *storage.SessionRepository
	Workspaces   *storage.WorkspaceRepository
	Events       *storage.EventStore
	SocketOrch   socket.Orchestrator
	Auth         middleware.AuthValidator
	Version      string
}

// NewRouter builds the mux.Router for the Session Core facade (spec
// §6.1, §6.2): /sessions, /workspaces, /admin/export, and the socket
// upgrade endpoint, behind the same Logging/Recovery/CORS/version
// middleware chain the teacher applies, plus Auth on every protected
// route (spec §6.1: "all protected endpoints require an authentication
// token").
func NewRouter(deps Dependencies, socketHandler *socket.Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	r.HandleFunc("/healthz", healthz).Methods("GET")

	sessionHandler := handlers.NewSessionHandler(deps.Orchestrator, deps.Sessions, deps.Events)
	workspaceHandler := handlers.NewWorkspaceHandler(deps.Workspaces)
	adminHandler := handlers.NewAdminHandler(deps.Sessions, deps.Workspaces)

	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.Auth(deps.Auth))

	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions", sessionHandler.Close).Methods("DELETE")
	api.HandleFunc("/sessions", sessionHandler.SetLayout).Methods("PUT")
	api.HandleFunc("/sessions/{runId}/history", func(w http.ResponseWriter, req *http.Request) {
		sessionHandler.History(w, req, mux.Vars(req)["runId"])
	}).Methods("GET")

	api.HandleFunc("/workspaces", workspaceHandler.Create).Methods("POST")
	api.HandleFunc("/workspaces", workspaceHandler.List).Methods("GET")
	api.HandleFunc("/workspaces/{path:.+}", func(w http.ResponseWriter, req *http.Request) {
		workspaceHandler.Get(w, req, mux.Vars(req)["path"])
	}).Methods("GET")
	api.HandleFunc("/workspaces/{path:.+}", func(w http.ResponseWriter, req *http.Request) {
		workspaceHandler.Update(w, req, mux.Vars(req)["path"])
	}).Methods("PATCH")
	api.HandleFunc("/workspaces/{path:.+}", func(w http.ResponseWriter, req *http.Request) {
		workspaceHandler.Delete(w, req, mux.Vars(req)["path"])
	}).Methods("DELETE")

	api.HandleFunc("/admin/export", adminHandler.Export).Methods("GET")

	r.Handle("/socket", socketHandler)

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Server represents the API server (spec §6 facade host process).
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
	socket *socket.Handler
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	socketHandler := socket.NewHandler(deps.SocketOrch, deps.Auth)
	router := NewRouter(deps, socketHandler)
	return &Server{router: router, cfg: cfg, socket: socketHandler}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If TLS is configured it uses HTTPS
// (file mode: ListenAndServeTLS with cert/key files; tailscale mode:
// ListenAndServeTLS("", "") with GetCertificate wired via tls.Config).
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)

	enabled, tlsConf, certPath, keyPath, err := s.cfg.TLS.Resolve()
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	s.server = &http.Server{Addr: addr, Handler: s.router}

	if !enabled {
		log.Printf("API server listening on http://%s", addr)
		return s.server.ListenAndServe()
	}

	if tlsConf != nil {
		s.server.TLSConfig = tlsConf.Clone()
		s.server.TLSConfig.MinVersion = tls.VersionTLS12
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	log.Printf("API server listening on https://%s (TLS enabled)", addr)
	return s.server.ListenAndServeTLS(certPath, keyPath)
}

// Shutdown gracefully shuts down the server, closing socket connections
// first so in-flight subscriptions detach cleanly.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.socket != nil {
		s.socket.Shutdown()
	}
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
