// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ptyadapter implements the pty adapter kind (spec §4.4.1):
// spawns a shell under a pseudo-terminal and streams its output as
// pty:stdout/pty:exit events. Grounded on the direct creack/pty usage in
// the teacher's handleRemoteTerminal path (as opposed to the tmux
// session-multiplexing manager, which does not fit the one-handle-per-run
// model this adapter contract requires).
package ptyadapter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/core"
)

const (
	channelStdout = "pty:stdout"
	channelExit   = "pty:exit"

	typeChunk = "chunk"
	typeExit  = "exit"
)

// defaultCloseGrace is used when SetCloseGrace has never been called
// (spec §6.4 closeGraceMs default).
const defaultCloseGrace = 5 * time.Second

// Adapter spawns shells under a pseudo-terminal. Each Start call produces
// an independent process; the adapter holds no cross-run state, so a
// fresh Adapter value per run (via the registry Factory) is equivalent to
// reusing one - but the registry always constructs fresh instances per
// spec §4.4.
type Adapter struct {
	// Shell is the command to run under the PTY. Defaults to $SHELL, or
	// /bin/sh if unset.
	Shell string

	// CloseGrace bounds how long Close waits for the shell to exit after
	// SIGTERM before force-killing it (spec §5 closeGraceMs). Configured
	// by the orchestrator via SetCloseGrace; <= 0 uses defaultCloseGrace.
	CloseGrace time.Duration
}

// SetCloseGrace implements adapter.GraceConfigurable.
func (a *Adapter) SetCloseGrace(d time.Duration) { a.CloseGrace = d }

// New returns an adapter.Factory for the pty kind.
func New() adapter.Factory {
	return func() adapter.Adapter { return &Adapter{} }
}

type handle struct {
	cmd     *exec.Cmd
	pty     *os.File
	mu      sync.Mutex // serializes writes to pty across Input/Resize/Close
	cb      adapter.ExitCallback
	exited  chan struct{} // closed once cmd.Wait returns
	drained chan struct{} // closed once readLoop has drained the pty
}

func (h *handle) OnExit(cb adapter.ExitCallback) {
	h.cb = cb
}

// PID implements adapter.PIDProvider.
func (h *handle) PID() (int, bool) {
	if h.cmd.Process == nil {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

// Start launches the shell under a PTY. It returns once the PTY is
// allocated and the read loop is running, satisfying the "live and
// capable of accepting input" requirement of the Adapter contract.
func (a *Adapter) Start(ctx context.Context, workspacePath string, metadata map[string]any, sink adapter.Sink) (adapter.Handle, error) {
	shell := a.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = workspacePath
	cmd.Env = os.Environ()

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: pty start: %v", core.ErrAdapterMisconfigured, err)
	}

	h := &handle{cmd: cmd, pty: f, exited: make(chan struct{}), drained: make(chan struct{})}

	go h.readLoop(sink)
	go h.waitLoop(sink)

	return h, nil
}

func (h *handle) readLoop(sink adapter.Sink) {
	defer close(h.drained)
	buf := make([]byte, 32*1024)
	for {
		n, err := h.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(adapter.Event{Channel: channelStdout, Type: typeChunk, Payload: chunk})
		}
		if err != nil {
			return
		}
	}
}

func (h *handle) waitLoop(sink adapter.Sink) {
	err := h.cmd.Wait()
	close(h.exited)

	code := 0
	reason := "exit"
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
			reason = "error"
		}
	}
	sink(adapter.Event{Channel: channelExit, Type: typeExit, Payload: []byte(fmt.Sprintf(`{"code":%d}`, code))})
	if h.cb != nil {
		h.cb(code, reason)
	}
}

// Input writes bytes to the PTY master.
func (a *Adapter) Input(h adapter.Handle, data []byte) error {
	ph := h.(*handle)
	ph.mu.Lock()
	defer ph.mu.Unlock()
	_, err := ph.pty.Write(data)
	return err
}

// Resize forwards a window-size change to the TTY.
func (a *Adapter) Resize(h adapter.Handle, cols, rows int) error {
	ph := h.(*handle)
	ph.mu.Lock()
	defer ph.mu.Unlock()
	return pty.Setsize(ph.pty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close asks the shell to exit via SIGTERM and waits up to CloseGrace
// before force-killing it (spec §5 closeGraceMs). Either way, it waits
// for the read loop to drain the pty's remaining output into sink
// before returning, per the Adapter contract's "drain pending output
// before Close resolves" (spec §4.4).
func (a *Adapter) Close(h adapter.Handle) error {
	ph := h.(*handle)

	ph.mu.Lock()
	proc := ph.cmd.Process
	ph.mu.Unlock()

	if proc != nil {
		_ = proc.Signal(syscall.SIGTERM)
	}

	grace := a.CloseGrace
	if grace <= 0 {
		grace = defaultCloseGrace
	}

	select {
	case <-ph.exited:
	case <-time.After(grace):
		ph.mu.Lock()
		if ph.cmd.Process != nil {
			_ = ph.cmd.Process.Kill()
		}
		ph.mu.Unlock()
		<-ph.exited
	}

	ph.mu.Lock()
	err := ph.pty.Close()
	ph.mu.Unlock()

	<-ph.drained
	return err
}
