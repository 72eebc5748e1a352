// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage implements the Session Core's only durable, globally
// shared mutable resource: a single embedded SQL database backing the
// Event Store (C1), Session Repository (C2), and Workspace Repository
// (C3).
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var logger = log.New(os.Stderr, "storage: ", log.LstdFlags)

// DB wraps the embedded SQL handle. All writes are serialized through a
// single connection: the per-run append rate is bounded by adapters, and
// durability dominates over write concurrency (spec §5).
type DB struct {
	conn *sql.DB
}

// Open creates (if necessary) and opens the SQL file at path, applying
// WAL journaling and running additive migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create store dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: set journal mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	logger.Printf("opened store at %s", path)
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies additive-only schema changes (spec §6.3). Tables are
// created with IF NOT EXISTS so that re-running migrate on an existing
// store is always safe.
func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			workspace_path TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata_json BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			channel TEXT NOT NULL,
			type TEXT NOT NULL,
			payload BLOB,
			ts INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE TABLE IF NOT EXISTS workspaces (
			path TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			theme_override TEXT,
			last_active INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_layouts (
			run_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			tile_id TEXT NOT NULL,
			PRIMARY KEY (run_id, client_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
