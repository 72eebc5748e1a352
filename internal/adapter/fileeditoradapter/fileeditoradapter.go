// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package fileeditoradapter implements the file-editor adapter kind
// (spec §4.4.3): buffered read/modify/write over a single file, with no
// TTY. External modifications to the file are surfaced as an
// fileeditor:externalChange event via fsnotify, the same library the
// teacher uses for binary-change detection in internal/watcher.
package fileeditoradapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/core"
)

const channelFileEditor = "fileeditor"

const (
	typeOpen           = "open"
	typeSave           = "save"
	typeClose          = "close"
	typeExternalChange = "externalChange"
)

// Adapter opens a file named by metadata["path"] (relative to
// workspacePath if not absolute) for buffered editing.
type Adapter struct{}

// New returns an adapter.Factory for the file-editor kind.
func New() adapter.Factory {
	return func() adapter.Adapter { return &Adapter{} }
}

type handle struct {
	path    string
	mu      sync.Mutex
	buf     []byte
	watcher *fsnotify.Watcher
	cb      adapter.ExitCallback
	done    chan struct{}
}

func (h *handle) OnExit(cb adapter.ExitCallback) { h.cb = cb }

// Start opens the file, loads its current contents into an in-memory
// buffer, emits an open event, and starts watching it for external
// changes.
func (a *Adapter) Start(ctx context.Context, workspacePath string, metadata map[string]any, sink adapter.Sink) (adapter.Handle, error) {
	path, _ := metadata["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("%w: file-editor requires metadata.path", core.ErrAdapterMisconfigured)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspacePath, path)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrAdapterMisconfigured, path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: fsnotify: %v", core.ErrAdapterMisconfigured, err)
	}
	// Watch the containing directory: watching a not-yet-existing file
	// directly isn't supported by fsnotify, and watching the directory
	// also catches create-after-delete (e.g. an editor's save-as-rename).
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", core.ErrAdapterMisconfigured, filepath.Dir(path), err)
	}

	h := &handle{path: path, buf: data, watcher: watcher, done: make(chan struct{})}

	sink(adapter.Event{Channel: channelFileEditor, Type: typeOpen, Payload: data})

	go h.watchLoop(sink)

	return h, nil
}

func (h *handle) watchLoop(sink adapter.Sink) {
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(h.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				sink(adapter.Event{Channel: channelFileEditor, Type: typeExternalChange, Payload: []byte(h.path)})
			}
		case <-h.watcher.Errors:
			// Watcher errors are non-fatal for the run; the file is
			// still readable/writable, it just loses live-change
			// notification.
		}
	}
}

// Input replaces the in-memory buffer with data and persists it to disk,
// emitting a save event. There is no TTY or byte-stream input for this
// adapter; each Input call is a whole-buffer save.
func (a *Adapter) Input(h adapter.Handle, data []byte) error {
	fh := h.(*handle)
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := os.WriteFile(fh.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fh.path, err)
	}
	fh.buf = data
	return nil
}

// Resize is a no-op: the file-editor adapter has no TTY.
func (a *Adapter) Resize(h adapter.Handle, cols, rows int) error {
	return nil
}

// Close stops watching the file and emits a final close event.
func (a *Adapter) Close(h adapter.Handle) error {
	fh := h.(*handle)
	close(fh.done)
	fh.watcher.Close()
	if fh.cb != nil {
		fh.cb(0, "exit")
	}
	return nil
}
