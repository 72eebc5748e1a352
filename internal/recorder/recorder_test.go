// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package recorder

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.EventStore {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "dispatch.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewEventStore(db)
}

// fakeHub records published events and closed runs; it never blocks.
type fakeHub struct {
	mu        sync.Mutex
	published []core.Event
	closed    []string
}

func (h *fakeHub) Publish(runID string, ev core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, ev)
}

func (h *fakeHub) CloseRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, runID)
}

func (h *fakeHub) snapshot() []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.Event, len(h.published))
	copy(out, h.published)
	return out
}

// fakeStatus records status transitions.
type fakeStatus struct {
	mu       sync.Mutex
	statuses []core.RunStatus
}

func (s *fakeStatus) SetRunStatus(runID string, status core.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *fakeStatus) last() core.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

// controllableHandle lets a test trigger adapter exit on demand.
type controllableHandle struct {
	cb adapter.ExitCallback
}

func (h *controllableHandle) OnExit(cb adapter.ExitCallback) { h.cb = cb }

// scriptedAdapter emits a fixed set of events from a background goroutine
// right after Start returns, simulating events racing the Recorder's
// flush, then waits for Close to fire onExit.
type scriptedAdapter struct {
	preStartEvents []adapter.Event
	handle         *controllableHandle
}

func (a *scriptedAdapter) Start(ctx context.Context, workspacePath string, metadata map[string]any, sink adapter.Sink) (adapter.Handle, error) {
	a.handle = &controllableHandle{}
	for _, ev := range a.preStartEvents {
		sink(ev)
	}
	return a.handle, nil
}

func (a *scriptedAdapter) Input(h adapter.Handle, data []byte) error     { return nil }
func (a *scriptedAdapter) Resize(h adapter.Handle, cols, rows int) error { return nil }
func (a *scriptedAdapter) Close(h adapter.Handle) error {
	ch := h.(*controllableHandle)
	if ch.cb != nil {
		ch.cb(0, "exit")
	}
	return nil
}

func TestRecorderFlushesPreStartEventsInOrderThenGoesRunning(t *testing.T) {
	store := openTestStore(t)
	hub := &fakeHub{}
	status := &fakeStatus{}
	a := &scriptedAdapter{preStartEvents: []adapter.Event{
		{Channel: "pty:stdout", Type: "chunk", Payload: []byte("a")},
		{Channel: "pty:stdout", Type: "chunk", Payload: []byte("b")},
	}}

	r := New("run-1", store, hub, status, a, 0)
	require.NoError(t, r.Start(context.Background(), t.TempDir(), nil))

	require.Eventually(t, func() bool {
		return len(hub.snapshot()) >= 2
	}, time.Second, 5*time.Millisecond)

	events, err := store.Read("run-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", string(events[0].Payload))
	assert.Equal(t, "b", string(events[1].Payload))

	require.Eventually(t, func() bool {
		return status.last() == core.StatusRunning
	}, time.Second, 5*time.Millisecond)
}

func TestRecorderOnExitAppendsSystemExitAndStopsCleanly(t *testing.T) {
	store := openTestStore(t)
	hub := &fakeHub{}
	status := &fakeStatus{}
	a := &scriptedAdapter{}

	r := New("run-2", store, hub, status, a, 0)
	require.NoError(t, r.Start(context.Background(), t.TempDir(), nil))

	require.Eventually(t, func() bool {
		return status.last() == core.StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())

	require.Eventually(t, func() bool {
		return status.last() == core.StatusStopped
	}, time.Second, 5*time.Millisecond)

	events, err := store.Read("run-2", 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.ChannelSystem, events[0].Channel)
	assert.Equal(t, core.TypeExit, events[0].Type)
}

func TestRecorderPreStartBufferDropsOldestOnOverflow(t *testing.T) {
	store := openTestStore(t)
	hub := &fakeHub{}
	status := &fakeStatus{}
	a := &scriptedAdapter{preStartEvents: []adapter.Event{
		{Channel: "pty:stdout", Type: "chunk", Payload: make([]byte, 100)},
		{Channel: "pty:stdout", Type: "chunk", Payload: make([]byte, 100)},
		{Channel: "pty:stdout", Type: "chunk", Payload: []byte("kept")},
	}}

	r := New("run-3", store, hub, status, a, 150)
	require.NoError(t, r.Start(context.Background(), t.TempDir(), nil))

	require.Eventually(t, func() bool {
		events, err := store.Read("run-3", 1, 0)
		return err == nil && len(events) >= 2
	}, time.Second, 5*time.Millisecond)

	events, err := store.Read("run-3", 1, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)

	var sawOverflow bool
	for _, e := range events {
		if e.Type == core.TypeOverflow {
			sawOverflow = true
		}
	}
	assert.True(t, sawOverflow, "expected a system/overflow marker event after a drop")
}
