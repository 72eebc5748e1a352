// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/storage"
)

// SessionOrchestrator is the subset of the C7 Session Orchestrator this
// handler drives. Kept as an interface so the handler can be exercised
// against a fake in tests without standing up storage/adapters.
type SessionOrchestrator interface {
	Create(ctx context.Context, kind core.Kind, workspacePath string, metadata map[string]any) (string, error)
	Input(runID string, data []byte) error
	Resize(runID string, cols, rows int) error
	Close(runID string) error
	Resume(ctx context.Context, runID string) error
	SetLayout(runID, clientID, tileID string) error
}

// SessionHandler implements the HTTP facade for the C7 operations (spec
// §6.1): create/list/close/setLayout and the direct history read.
type SessionHandler struct {
	orch     SessionOrchestrator
	sessions *storage.SessionRepository
	events   *storage.EventStore
}

// NewSessionHandler wires a SessionHandler to its collaborators.
func NewSessionHandler(orch SessionOrchestrator, sessions *storage.SessionRepository, events *storage.EventStore) *SessionHandler {
	return &SessionHandler{orch: orch, sessions: sessions, events: events}
}

type createSessionRequest struct {
	Kind          string         `json:"kind"`
	WorkspacePath string         `json:"workspacePath"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Resume        bool           `json:"resume,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
}

type sessionSummary struct {
	RunID         string         `json:"runId"`
	Kind          core.Kind      `json:"kind"`
	WorkspacePath string         `json:"workspacePath"`
	Status        core.RunStatus `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     int64          `json:"createdAt"`
	UpdatedAt     int64          `json:"updatedAt"`
}

func toSummary(run core.Run) sessionSummary {
	return sessionSummary{
		RunID:         run.RunID,
		Kind:          run.Kind,
		WorkspacePath: run.WorkspacePath,
		Status:        run.Status,
		Metadata:      run.Metadata,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

// Create handles POST /sessions (spec §6.1, §4.7.1, §4.7.6).
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	if req.Resume && req.SessionID != "" {
		if err := h.orch.Resume(r.Context(), req.SessionID); err != nil {
			WriteCoreError(w, err)
			return
		}
		run, err := h.sessions.FindByID(req.SessionID)
		if err != nil {
			WriteCoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, toSummary(run))
		return
	}

	if req.WorkspacePath == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "workspacePath is required")
		return
	}

	runID, err := h.orch.Create(r.Context(), core.Kind(req.Kind), req.WorkspacePath, req.Metadata)
	if err != nil {
		WriteCoreError(w, err)
		return
	}

	run, err := h.sessions.FindByID(runID)
	if err != nil {
		WriteCoreError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, toSummary(run))
}

// List handles GET /sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.sessions.List()
	if err != nil {
		WriteCoreError(w, err)
		return
	}
	summaries := make([]sessionSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, toSummary(run))
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// Close handles DELETE /sessions?runId=X (spec §4.7.5).
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "runId is required")
		return
	}
	if err := h.orch.Close(runID); err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runId": runID, "status": "stopped"})
}

type setLayoutRequest struct {
	Action   string `json:"action"`
	RunID    string `json:"runId"`
	ClientID string `json:"clientId"`
	TileID   string `json:"tileId,omitempty"`
}

// SetLayout handles PUT /sessions (spec §4.7.7, §6.1).
func (h *SessionHandler) SetLayout(w http.ResponseWriter, r *http.Request) {
	var req setLayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" || req.ClientID == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "runId and clientId are required")
		return
	}

	tileID := req.TileID
	if req.Action == "removeLayout" {
		tileID = ""
	}

	if err := h.orch.SetLayout(req.RunID, req.ClientID, tileID); err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// History handles GET /sessions/{runId}/history?fromSeq=N&limit=K (spec
// §6.1): a direct read from C1, no subscription involved.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request, runID string) {
	fromSeq := int64(1)
	if v := r.URL.Query().Get("fromSeq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			fromSeq = n
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.events.Read(runID, fromSeq, limit)
	if err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
