// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fwdslsh/dispatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspaceHandler(t *testing.T) *WorkspaceHandler {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "dispatch.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWorkspaceHandler(storage.NewWorkspaceRepository(db))
}

func TestWorkspaceHandler_CreateAndGet(t *testing.T) {
	h := newTestWorkspaceHandler(t)

	body, _ := json.Marshal(createWorkspaceRequest{Path: "/tmp/project", Name: "project"})
	req := httptest.NewRequest("POST", "/workspaces", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest("GET", "/workspaces/tmp/project", nil)
	rec = httptest.NewRecorder()
	h.Get(rec, req, "/tmp/project")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkspaceHandler_Create_RequiresPath(t *testing.T) {
	h := newTestWorkspaceHandler(t)

	body, _ := json.Marshal(createWorkspaceRequest{})
	req := httptest.NewRequest("POST", "/workspaces", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkspaceHandler_List(t *testing.T) {
	h := newTestWorkspaceHandler(t)

	for _, p := range []string{"/a", "/b"} {
		body, _ := json.Marshal(createWorkspaceRequest{Path: p})
		req := httptest.NewRequest("POST", "/workspaces", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.Create(rec, req)
	}

	req := httptest.NewRequest("GET", "/workspaces", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkspaceHandler_UpdateAndDelete(t *testing.T) {
	h := newTestWorkspaceHandler(t)

	body, _ := json.Marshal(createWorkspaceRequest{Path: "/tmp/project"})
	req := httptest.NewRequest("POST", "/workspaces", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	updateBody, _ := json.Marshal(updateWorkspaceRequest{Name: "renamed"})
	req = httptest.NewRequest("PATCH", "/workspaces/tmp/project", bytes.NewReader(updateBody))
	rec = httptest.NewRecorder()
	h.Update(rec, req, "/tmp/project")
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("DELETE", "/workspaces/tmp/project", nil)
	rec = httptest.NewRecorder()
	h.Delete(rec, req, "/tmp/project")
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/workspaces/tmp/project", nil)
	rec = httptest.NewRecorder()
	h.Get(rec, req, "/tmp/project")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
