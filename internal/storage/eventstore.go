// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fwdslsh/dispatch/internal/core"
)

// EventStore implements C1 (spec §4.1): an append-only log keyed by
// runId, assigning monotonic per-run sequence numbers.
type EventStore struct {
	db *DB
}

// NewEventStore wraps db as an EventStore.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append assigns seq = maxSeq(runId)+1, persists the row, and returns the
// assigned seq. Callers (only the Event Recorder) must not invoke
// concurrent appends for the same runId; the store does not itself
// arbitrate across concurrent callers for the same run.
func (s *EventStore) Append(runID, channel, eventType string, payload []byte, ts int64) (int64, error) {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", core.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM events WHERE run_id = ?`, runID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("%w: read max seq: %v", core.ErrStoreUnavailable, err)
	}
	seq := maxSeq.Int64 + 1

	if _, err := tx.Exec(
		`INSERT INTO events(run_id, seq, channel, type, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, seq, channel, eventType, payload, ts,
	); err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", core.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", core.ErrStoreUnavailable, err)
	}
	return seq, nil
}

// Read returns events for runID ordered by seq ascending, starting at
// fromSeq (inclusive), bounded by limit (0 means unbounded).
func (s *EventStore) Read(runID string, fromSeq int64, limit int) ([]core.Event, error) {
	query := `SELECT run_id, seq, channel, type, payload, ts FROM events WHERE run_id = ? AND seq >= ? ORDER BY seq ASC`
	args := []any{runID, fromSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var e core.Event
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Channel, &e.Type, &e.Payload, &e.Ts); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", core.ErrStoreUnavailable, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", core.ErrStoreUnavailable, err)
	}
	return events, nil
}

// MaxSeq returns the highest persisted seq for runID, or 0 if the run has
// no events yet.
func (s *EventStore) MaxSeq(runID string) (int64, error) {
	var maxSeq sql.NullInt64
	if err := s.db.conn.QueryRow(`SELECT MAX(seq) FROM events WHERE run_id = ?`, runID).Scan(&maxSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: max seq: %v", core.ErrStoreUnavailable, err)
	}
	return maxSeq.Int64, nil
}
