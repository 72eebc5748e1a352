// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fwdslsh/dispatch/internal/storage"
)

// WorkspaceHandler implements the Workspace CRUD surface (spec §4.3,
// §6.1) over the C3 Workspace Repository.
type WorkspaceHandler struct {
	workspaces *storage.WorkspaceRepository
}

// NewWorkspaceHandler wires a WorkspaceHandler to its repository.
func NewWorkspaceHandler(workspaces *storage.WorkspaceRepository) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: workspaces}
}

type createWorkspaceRequest struct {
	Path          string `json:"path"`
	Name          string `json:"name,omitempty"`
	ThemeOverride string `json:"themeOverride,omitempty"`
}

// Create handles POST /workspaces. Duplicate-path creation fails with
// Conflict (spec §4.3, P6).
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "path is required")
		return
	}

	now := time.Now().UnixMilli()
	ws, err := h.workspaces.Create(req.Path, req.Name, req.ThemeOverride, now)
	if err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ws)
}

// List handles GET /workspaces, ordered last-active desc then
// updated-at desc (spec §4.3).
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.workspaces.List()
	if err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

// Get handles GET /workspaces/{path}.
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request, path string) {
	ws, err := h.workspaces.Get(path)
	if err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

type updateWorkspaceRequest struct {
	Name          string `json:"name,omitempty"`
	ThemeOverride string `json:"themeOverride,omitempty"`
}

// Update handles PATCH /workspaces/{path}. Non-identity columns are
// last-writer-wins (spec §5).
func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request, path string) {
	var req updateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	now := time.Now().UnixMilli()
	existing, err := h.workspaces.Get(path)
	if err != nil {
		WriteCoreError(w, err)
		return
	}

	name := existing.Name
	if req.Name != "" {
		name = req.Name
	}
	theme := existing.ThemeOverride
	if req.ThemeOverride != "" {
		theme = req.ThemeOverride
	}

	if err := h.workspaces.Update(path, name, theme, existing.LastActive, now); err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Delete handles DELETE /workspaces/{path}.
func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request, path string) {
	if err := h.workspaces.Delete(path); err != nil {
		WriteCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}
