// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/hub"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	deliver    hub.Deliver
	inputData  []byte
	closedRun  string
	attachErr  error
}

func (f *fakeOrchestrator) Attach(runID string, fromSeq int64, deliver hub.Deliver) (hub.Handle, error) {
	if f.attachErr != nil {
		return hub.Handle{}, f.attachErr
	}
	f.deliver = deliver
	return hub.Handle{}, nil
}

func (f *fakeOrchestrator) Detach(handle hub.Handle) {}

func (f *fakeOrchestrator) Input(runID string, data []byte) error {
	f.inputData = data
	return nil
}

func (f *fakeOrchestrator) Resize(runID string, cols, rows int) error { return nil }

func (f *fakeOrchestrator) Close(runID string) error {
	f.closedRun = runID
	return nil
}

type allowAllValidator struct{}

func (allowAllValidator) Validate(token string) bool { return true }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandler_HelloAndAttach(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := NewHandler(orch, allowAllValidator{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "client:hello", ClientID: "c1"}))
	var hello serverMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.True(t, hello.OK)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "run:attach", RunID: "pty-1", FromSeq: 1}))
	time.Sleep(20 * time.Millisecond)
	require.NotNil(t, orch.deliver)

	result := orch.deliver(core.Event{RunID: "pty-1", Seq: 1, Channel: core.ChannelSystem, Type: "chunk", Payload: []byte("hi")})
	assert.Equal(t, hub.DeliverOK, result)

	var ev serverMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "run:event", ev.Type)
	assert.Equal(t, int64(1), ev.Seq)
}

func TestHandler_RequiresAuthBeforeInput(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := NewHandler(orch, allowAllValidator{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "run:input", RunID: "pty-1", Bytes: []byte("x")}))
	var msg serverMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "run:error", msg.Type)
	assert.Nil(t, orch.inputData)
}

func TestHandler_Close(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := NewHandler(orch, allowAllValidator{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "client:hello"}))
	var hello serverMessage
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "run:close", RunID: "pty-1"}))
	var status serverMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "run:status", status.Type)
	assert.Equal(t, core.StatusStopped, status.Status)
	assert.Equal(t, "pty-1", orch.closedRun)
}

func TestHandler_Shutdown(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := NewHandler(orch, allowAllValidator{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	time.Sleep(10 * time.Millisecond)

	h.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
