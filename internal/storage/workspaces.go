// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fwdslsh/dispatch/internal/core"
)

// WorkspaceRepository implements C3 (spec §4.3).
type WorkspaceRepository struct {
	db *DB
}

// NewWorkspaceRepository wraps db as a WorkspaceRepository.
func NewWorkspaceRepository(db *DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// Create inserts a new workspace row. If name is empty, it defaults to
// the last path segment (P6). Fails with core.ErrConflict on duplicate
// path.
func (r *WorkspaceRepository) Create(path, name, themeOverride string, now int64) (core.Workspace, error) {
	if name == "" {
		name = filepath.Base(path)
	}

	_, err := r.db.conn.Exec(
		`INSERT INTO workspaces(path, name, theme_override, last_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		path, name, nullableString(themeOverride), now, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Workspace{}, fmt.Errorf("workspace %s: %w", path, core.ErrConflict)
		}
		return core.Workspace{}, fmt.Errorf("%w: create workspace: %v", core.ErrStoreUnavailable, err)
	}

	return core.Workspace{
		Path: path, Name: name, ThemeOverride: themeOverride,
		LastActive: now, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Get looks up a workspace by path.
func (r *WorkspaceRepository) Get(path string) (core.Workspace, error) {
	row := r.db.conn.QueryRow(
		`SELECT path, name, theme_override, last_active, created_at, updated_at FROM workspaces WHERE path = ?`, path,
	)
	return scanWorkspace(row)
}

// Update applies a partial update; zero-value fields in patch fields not
// present are left unchanged via the caller passing the current value.
// last-writer-wins on non-identity columns, per spec §5.
func (r *WorkspaceRepository) Update(path, name, themeOverride string, lastActive, updatedAt int64) error {
	res, err := r.db.conn.Exec(
		`UPDATE workspaces SET name = ?, theme_override = ?, last_active = ?, updated_at = ? WHERE path = ?`,
		name, nullableString(themeOverride), lastActive, updatedAt, path,
	)
	if err != nil {
		return fmt.Errorf("%w: update workspace: %v", core.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", core.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return core.ErrNoSuchWorkspace
	}
	return nil
}

// Touch updates only last_active, used on create/attach of a run within
// the workspace (spec §4.3).
func (r *WorkspaceRepository) Touch(path string, lastActive, updatedAt int64) error {
	_, err := r.db.conn.Exec(`UPDATE workspaces SET last_active = ?, updated_at = ? WHERE path = ?`, lastActive, updatedAt, path)
	if err != nil {
		return fmt.Errorf("%w: touch workspace: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// List returns workspaces ordered by last_active desc, then updated_at
// desc (spec §4.3).
func (r *WorkspaceRepository) List() ([]core.Workspace, error) {
	rows, err := r.db.conn.Query(
		`SELECT path, name, theme_override, last_active, created_at, updated_at FROM workspaces
		 ORDER BY last_active DESC, updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list workspaces: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []core.Workspace
	for rows.Next() {
		ws, err := scanWorkspaceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// Delete removes a workspace row.
func (r *WorkspaceRepository) Delete(path string) error {
	_, err := r.db.conn.Exec(`DELETE FROM workspaces WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("%w: delete workspace: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanWorkspace(row *sql.Row) (core.Workspace, error) {
	var ws core.Workspace
	var theme sql.NullString
	var lastActive sql.NullInt64
	if err := row.Scan(&ws.Path, &ws.Name, &theme, &lastActive, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Workspace{}, core.ErrNoSuchWorkspace
		}
		return core.Workspace{}, fmt.Errorf("%w: scan workspace: %v", core.ErrStoreUnavailable, err)
	}
	ws.ThemeOverride = theme.String
	ws.LastActive = lastActive.Int64
	return ws, nil
}

func scanWorkspaceRows(rows *sql.Rows) (core.Workspace, error) {
	var ws core.Workspace
	var theme sql.NullString
	var lastActive sql.NullInt64
	if err := rows.Scan(&ws.Path, &ws.Name, &theme, &lastActive, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return core.Workspace{}, fmt.Errorf("%w: scan workspace: %v", core.ErrStoreUnavailable, err)
	}
	ws.ThemeOverride = theme.String
	ws.LastActive = lastActive.Int64
	return ws, nil
}
