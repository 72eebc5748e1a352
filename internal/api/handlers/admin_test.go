// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAdminHandler_Export(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "dispatch.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions := storage.NewSessionRepository(db)
	workspaces := storage.NewWorkspaceRepository(db)

	require.NoError(t, sessions.Create(core.Run{
		RunID: "pty-1", Kind: core.KindPTY, WorkspacePath: "/a", Status: core.StatusRunning,
	}))
	_, err = workspaces.Create("/a", "a", "", 0)
	require.NoError(t, err)

	h := NewAdminHandler(sessions, workspaces)

	req := httptest.NewRequest("GET", "/admin/export", nil)
	rec := httptest.NewRecorder()
	h.Export(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))

	var doc exportDocument
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Runs, 1)
	require.Len(t, doc.Workspaces, 1)
	assert.Equal(t, "pty-1", doc.Runs[0].RunID)
}
