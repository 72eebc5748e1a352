// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fwdslsh/dispatch/internal/core"
)

// SessionRepository implements C2 (spec §4.2): durable run metadata. The
// sole writer of a run's status is the Session Orchestrator; this
// repository enforces nothing about who calls SetStatus, it only
// persists what it's told.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository wraps db as a SessionRepository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new run row. Fails with core.ErrConflict if runId
// already exists.
func (r *SessionRepository) Create(run core.Run) error {
	metaJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.conn.Exec(
		`INSERT INTO runs(run_id, kind, workspace_path, status, metadata_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, string(run.Kind), run.WorkspacePath, string(run.Status), metaJSON, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %s: %w", run.RunID, core.ErrConflict)
		}
		return fmt.Errorf("%w: create run: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// FindByID looks up a run by id. Returns core.ErrNoSuchRun if absent.
func (r *SessionRepository) FindByID(runID string) (core.Run, error) {
	row := r.db.conn.QueryRow(
		`SELECT run_id, kind, workspace_path, status, metadata_json, created_at, updated_at FROM runs WHERE run_id = ?`,
		runID,
	)
	return scanRun(row)
}

// List returns all runs in insertion order (spec §4.2).
func (r *SessionRepository) List() ([]core.Run, error) {
	rows, err := r.db.conn.Query(
		`SELECT run_id, kind, workspace_path, status, metadata_json, created_at, updated_at FROM runs ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FindByKind returns all runs of the given kind, insertion order.
func (r *SessionRepository) FindByKind(kind core.Kind) ([]core.Run, error) {
	rows, err := r.db.conn.Query(
		`SELECT run_id, kind, workspace_path, status, metadata_json, created_at, updated_at FROM runs WHERE kind = ? ORDER BY created_at ASC`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: find by kind: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FindByStatuses returns all runs whose status is one of statuses. Used
// by the orchestrator's crash-recovery sweep at startup (spec §4.7.8).
func (r *SessionRepository) FindByStatuses(statuses ...core.RunStatus) ([]core.Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(s))
	}

	rows, err := r.db.conn.Query(
		`SELECT run_id, kind, workspace_path, status, metadata_json, created_at, updated_at FROM runs WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: find by status: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// SetStatus updates a run's status and updatedAt timestamp.
func (r *SessionRepository) SetStatus(runID string, status core.RunStatus, updatedAt int64) error {
	res, err := r.db.conn.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`, string(status), updatedAt, runID)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", core.ErrStoreUnavailable, err)
	}
	return requireRowAffected(res, runID)
}

// SetLayout sets or clears (tileID == "") the tile placement for
// (runId, clientId). Orthogonal to the event log (spec §4.7.7).
func (r *SessionRepository) SetLayout(runID, clientID, tileID string) error {
	if tileID == "" {
		_, err := r.db.conn.Exec(`DELETE FROM run_layouts WHERE run_id = ? AND client_id = ?`, runID, clientID)
		if err != nil {
			return fmt.Errorf("%w: clear layout: %v", core.ErrStoreUnavailable, err)
		}
		return nil
	}

	_, err := r.db.conn.Exec(
		`INSERT INTO run_layouts(run_id, client_id, tile_id) VALUES (?, ?, ?)
		 ON CONFLICT(run_id, client_id) DO UPDATE SET tile_id = excluded.tile_id`,
		runID, clientID, tileID,
	)
	if err != nil {
		return fmt.Errorf("%w: set layout: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateMetadata merges patch into the run's metadata bag.
func (r *SessionRepository) UpdateMetadata(runID string, patch map[string]any, updatedAt int64) error {
	run, err := r.FindByID(runID)
	if err != nil {
		return err
	}
	if run.Metadata == nil {
		run.Metadata = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		run.Metadata[k] = v
	}

	metaJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := r.db.conn.Exec(`UPDATE runs SET metadata_json = ?, updated_at = ? WHERE run_id = ?`, metaJSON, updatedAt, runID)
	if err != nil {
		return fmt.Errorf("%w: update metadata: %v", core.ErrStoreUnavailable, err)
	}
	return requireRowAffected(res, runID)
}

func scanRun(row *sql.Row) (core.Run, error) {
	var run core.Run
	var kind, status string
	var metaJSON []byte
	if err := row.Scan(&run.RunID, &kind, &run.WorkspacePath, &status, &metaJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Run{}, core.ErrNoSuchRun
		}
		return core.Run{}, fmt.Errorf("%w: scan run: %v", core.ErrStoreUnavailable, err)
	}
	run.Kind = core.Kind(kind)
	run.Status = core.RunStatus(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
			return core.Run{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return run, nil
}

func scanRuns(rows *sql.Rows) ([]core.Run, error) {
	var runs []core.Run
	for rows.Next() {
		var run core.Run
		var kind, status string
		var metaJSON []byte
		if err := rows.Scan(&run.RunID, &kind, &run.WorkspacePath, &status, &metaJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", core.ErrStoreUnavailable, err)
		}
		run.Kind = core.Kind(kind)
		run.Status = core.RunStatus(status)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", core.ErrStoreUnavailable, err)
	}
	return runs, nil
}

func requireRowAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", core.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return core.ErrNoSuchRun
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as plain errors
	// whose text names the constraint; there's no typed sentinel, so we
	// match on the SQLite error text the same way the driver's own test
	// suite does.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
