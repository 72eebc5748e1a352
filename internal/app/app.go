// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the Session Core's components together (storage ->
// adapter registry -> hub -> orchestrator -> api server) the way the
// teacher's own App wires its service/worktree/terminal managers: one
// struct holding every collaborator, an Initialize/Start/Run/Shutdown
// lifecycle, and signal-driven shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/adapter/claudeadapter"
	"github.com/fwdslsh/dispatch/internal/adapter/fileeditoradapter"
	"github.com/fwdslsh/dispatch/internal/adapter/ptyadapter"
	"github.com/fwdslsh/dispatch/internal/api"
	"github.com/fwdslsh/dispatch/internal/api/middleware"
	"github.com/fwdslsh/dispatch/internal/config"
	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/hub"
	"github.com/fwdslsh/dispatch/internal/orchestrator"
	"github.com/fwdslsh/dispatch/internal/storage"
	"golang.org/x/sync/errgroup"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	db           *storage.DB
	sessions     *storage.SessionRepository
	workspaces   *storage.WorkspaceRepository
	events       *storage.EventStore
	hub          *hub.Hub
	registry     *adapter.Registry
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	app.config = cfg
	return app, nil
}

// Initialize sets up all components: the embedded store, the adapter
// registry, the hub, and the orchestrator that sits on top of them.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	db, err := storage.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	app.db = db

	app.sessions = storage.NewSessionRepository(db)
	app.workspaces = storage.NewWorkspaceRepository(db)
	app.events = storage.NewEventStore(db)

	app.registry = adapter.NewRegistry()
	app.registry.Register(core.KindPTY, ptyadapter.New())
	app.registry.Register(core.KindClaude, claudeadapter.New())
	app.registry.Register(core.KindFileEditor, fileeditoradapter.New())

	app.hub = hub.New(app.events, cfg.Hub.SubscriberWindowBytes)

	app.orchestrator = orchestrator.New(app.registry, app.sessions, app.workspaces, app.events, app.hub, cfg.Hub.PreStartBufferBytes, cfg.Adapters.StartTimeoutMs, cfg.Adapters.CloseGraceMs)

	log.Println("Recovering crashed runs from previous process...")
	if err := app.orchestrator.RecoverCrashedRuns(); err != nil {
		log.Printf("Warning: failed to recover crashed runs: %v", err)
	}

	validator := middleware.StaticTokenValidator{Token: cfg.Auth.Token}
	if cfg.Auth.Token == "" {
		log.Println("Warning: no auth token configured, all endpoints are unauthenticated")
	}

	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
			TLS: api.TLSConfig{
				Mode: cfg.Server.TLS.Mode,
				Cert: cfg.Server.TLS.Cert,
				Key:  cfg.Server.TLS.Key,
			},
		},
		api.Dependencies{
			Orchestrator: app.orchestrator,
			Sessions:     app.sessions,
			Workspaces:   app.workspaces,
			Events:       app.events,
			SocketOrch:   app.orchestrator,
			Auth:         validator,
			Version:      app.version,
		},
	)

	return nil
}

// Start starts all components.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting API server on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components. The API server (and the
// socket handler it owns) is stopped first so no new requests or live
// attachments start while the store is closing underneath them.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	g, gCtx := errgroup.WithContext(ctx)

	if app.apiServer != nil {
		g.Go(func() error {
			if err := app.apiServer.Shutdown(gCtx); err != nil {
				log.Printf("Error shutting down API server: %v", err)
			}
			return nil
		})
	}

	_ = g.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
