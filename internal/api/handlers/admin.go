// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/storage"
	"gopkg.in/yaml.v3"
)

// AdminHandler exposes read-only introspection endpoints, grounded on
// the teacher's general pattern of read-only admin surfaces (e.g.
// /api/v1/crashes, /api/v1/trace/reports) and supplementing spec §9's
// retention open question with something an operator can act on without
// core implementing deletion itself.
type AdminHandler struct {
	sessions   *storage.SessionRepository
	workspaces *storage.WorkspaceRepository
}

// NewAdminHandler wires an AdminHandler to its repositories.
func NewAdminHandler(sessions *storage.SessionRepository, workspaces *storage.WorkspaceRepository) *AdminHandler {
	return &AdminHandler{sessions: sessions, workspaces: workspaces}
}

type exportDocument struct {
	Runs       []core.Run       `yaml:"runs"`
	Workspaces []core.Workspace `yaml:"workspaces"`
}

// Export handles GET /admin/export: dumps every run and workspace row as
// YAML. Read-only; it never deletes anything, matching the spec's
// resolution that retention stays outside the core for now.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	runs, err := h.sessions.List()
	if err != nil {
		WriteCoreError(w, err)
		return
	}
	workspaces, err := h.workspaces.List()
	if err != nil {
		WriteCoreError(w, err)
		return
	}

	doc := exportDocument{Runs: runs, Workspaces: workspaces}
	out, err := yaml.Marshal(doc)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
