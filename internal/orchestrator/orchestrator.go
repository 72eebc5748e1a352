// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the Session Orchestrator (C7, spec
// §4.7): the top-level coordinator and the only component that mutates
// run status, owning an in-memory run table mapping runId to live
// Recorder. Grounded on the teacher's internal/service.ServiceManager
// (internal/service/manager.go): a name-keyed map of managed instances
// behind one mutex, with idempotent start/stop and an explicit
// dependency-free per-entity lifecycle. The teacher's crash-recovery
// concept (cfg.RestartPolicy) drives this package's process-start crash
// scan, adapted from "should I restart" to "mark crashed and leave it
// for the client to resume".
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/hub"
	"github.com/fwdslsh/dispatch/internal/recorder"
	"github.com/fwdslsh/dispatch/internal/storage"
	"github.com/mitchellh/go-ps"
)

var logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)

// Orchestrator is the sole writer of run status and owner of the live
// run table (spec §4.7).
type Orchestrator struct {
	registry     *adapter.Registry
	sessions     *storage.SessionRepository
	workspaces   *storage.WorkspaceRepository
	events       *storage.EventStore
	hub          *hub.Hub
	preStartBuf  int
	startTimeout time.Duration
	closeGrace   time.Duration

	mu    sync.Mutex
	table map[string]*recorder.Recorder
}

const (
	defaultStartTimeout = 30 * time.Second
	defaultCloseGrace   = 5 * time.Second
)

// New constructs an Orchestrator. preStartBufferBytes is forwarded to
// every Recorder it creates; <= 0 uses the Recorder package default.
// startTimeoutMs bounds how long adapter.start may take (spec §5, §6.4
// adapterStartTimeoutMs; <= 0 uses the spec default of 30s).
// closeGraceMs is configured on every adapter instance that implements
// adapter.GraceConfigurable before it is started (spec §5, §6.4
// closeGraceMs; <= 0 uses the spec default of 5s).
func New(registry *adapter.Registry, sessions *storage.SessionRepository, workspaces *storage.WorkspaceRepository, events *storage.EventStore, h *hub.Hub, preStartBufferBytes int, startTimeoutMs int, closeGraceMs int) *Orchestrator {
	startTimeout := defaultStartTimeout
	if startTimeoutMs > 0 {
		startTimeout = time.Duration(startTimeoutMs) * time.Millisecond
	}
	closeGrace := defaultCloseGrace
	if closeGraceMs > 0 {
		closeGrace = time.Duration(closeGraceMs) * time.Millisecond
	}
	return &Orchestrator{
		registry:     registry,
		sessions:     sessions,
		workspaces:   workspaces,
		events:       events,
		hub:          h,
		preStartBuf:  preStartBufferBytes,
		startTimeout: startTimeout,
		closeGrace:   closeGrace,
		table:        make(map[string]*recorder.Recorder),
	}
}

// configureAdapter applies the orchestrator's configured close-grace
// period to a, if a supports it (spec §5 closeGraceMs).
func (o *Orchestrator) configureAdapter(a adapter.Adapter) {
	if gc, ok := a.(adapter.GraceConfigurable); ok {
		gc.SetCloseGrace(o.closeGrace)
	}
}

// recordPID persists the adapter's OS pid (if it exposes one) into the
// run's metadata, so RecoverCrashedRuns can tell a genuinely orphaned run
// apart from one whose adapter process outlived a host restart.
func (o *Orchestrator) recordPID(runID string, h adapter.Handle) {
	pp, ok := h.(adapter.PIDProvider)
	if !ok {
		return
	}
	pid, ok := pp.PID()
	if !ok {
		return
	}
	if err := o.sessions.UpdateMetadata(runID, map[string]any{"pid": pid}, nowMillis()); err != nil {
		logger.Printf("run %s: failed to record pid %d: %v", runID, pid, err)
	}
}

// SetRunStatus implements recorder.StatusSetter: it is the single path
// by which a Recorder's observations (flush-complete, exit) become a
// durable status change, and it removes the Recorder from the live
// table on any terminal status so later operations see NotLive.
func (o *Orchestrator) SetRunStatus(runID string, status core.RunStatus) {
	if err := o.sessions.SetStatus(runID, status, nowMillis()); err != nil {
		logger.Printf("run %s: failed to persist status %s: %v", runID, status, err)
	}
	if status == core.StatusStopped || status == core.StatusCrashed {
		o.mu.Lock()
		delete(o.table, runID)
		o.mu.Unlock()
	}
}

// Create implements 4.7.1: validates kind, touches (or creates) the
// workspace, persists the run row, starts the adapter through a fresh
// Recorder, and installs it in the run table.
func (o *Orchestrator) Create(ctx context.Context, kind core.Kind, workspacePath string, metadata map[string]any) (string, error) {
	if !o.registry.Supports(kind) {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}

	now := nowMillis()
	if _, err := o.workspaces.Get(workspacePath); err != nil {
		if _, createErr := o.workspaces.Create(workspacePath, "", "", now); createErr != nil {
			return "", fmt.Errorf("auto-create workspace %s: %w", workspacePath, createErr)
		}
	} else {
		_ = o.workspaces.Touch(workspacePath, now, now)
	}

	runID, err := newRunID(kind)
	if err != nil {
		return "", err
	}

	run := core.Run{
		RunID:         runID,
		Kind:          kind,
		WorkspacePath: workspacePath,
		Status:        core.StatusStarting,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.sessions.Create(run); err != nil {
		return "", err
	}

	a, err := o.registry.New(kind)
	if err != nil {
		_ = o.sessions.SetStatus(runID, core.StatusCrashed, nowMillis())
		return "", err
	}
	o.configureAdapter(a)

	rec := recorder.New(runID, o.events, o.hub, o, a, o.preStartBuf)

	startCtx, cancel := context.WithTimeout(ctx, o.startTimeout)
	defer cancel()
	if err := rec.Start(startCtx, workspacePath, metadata); err != nil {
		_ = o.sessions.SetStatus(runID, core.StatusCrashed, nowMillis())
		return "", err
	}
	o.recordPID(runID, rec.Handle())

	o.mu.Lock()
	o.table[runID] = rec
	o.mu.Unlock()

	return runID, nil
}

// Attach implements 4.7.2: lookup, normalize fromSeq, delegate to the
// Hub. Attaches are permitted regardless of live/stopped status.
func (o *Orchestrator) Attach(runID string, fromSeq int64, deliver hub.Deliver) (hub.Handle, error) {
	if _, err := o.sessions.FindByID(runID); err != nil {
		return hub.Handle{}, err
	}
	if fromSeq < 1 {
		fromSeq = 1
	}
	return o.hub.Subscribe(runID, fromSeq, deliver)
}

// Detach ends a subscription previously returned by Attach. Idempotent.
func (o *Orchestrator) Detach(handle hub.Handle) {
	o.hub.Unsubscribe(handle)
}

func (o *Orchestrator) live(runID string) (*recorder.Recorder, error) {
	o.mu.Lock()
	rec, ok := o.table[runID]
	o.mu.Unlock()
	if !ok {
		return nil, core.ErrNotLive
	}
	return rec, nil
}

// Input implements 4.7.3.
func (o *Orchestrator) Input(runID string, data []byte) error {
	rec, err := o.live(runID)
	if err != nil {
		return err
	}
	return rec.Input(data)
}

// Resize implements 4.7.4.
func (o *Orchestrator) Resize(runID string, cols, rows int) error {
	rec, err := o.live(runID)
	if err != nil {
		return err
	}
	return rec.Resize(cols, rows)
}

// Close implements 4.7.5: idempotent if the run is already terminal.
func (o *Orchestrator) Close(runID string) error {
	rec, err := o.live(runID)
	if err != nil {
		run, findErr := o.sessions.FindByID(runID)
		if findErr != nil {
			return findErr
		}
		if run.Status == core.StatusStopped || run.Status == core.StatusCrashed {
			return nil
		}
		return err
	}
	return rec.Close()
}

// Resume implements 4.7.6: only runs whose kind supports resume and
// whose status is terminal qualify.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	run, err := o.sessions.FindByID(runID)
	if err != nil {
		return err
	}
	if run.Status != core.StatusStopped && run.Status != core.StatusCrashed {
		return fmt.Errorf("%w: run %s is not terminal", core.ErrConflict, runID)
	}

	a, err := o.registry.New(run.Kind)
	if err != nil {
		return err
	}
	resumable, ok := a.(adapter.Resumable)
	if !ok {
		return core.ErrNotResumable
	}
	o.configureAdapter(resumable)

	maxSeq, err := o.events.MaxSeq(runID)
	if err != nil {
		return err
	}

	rec := recorder.New(runID, o.events, o.hub, o, resumeAdapter{resumable}, o.preStartBuf)
	resumeHint := run.Metadata["resumeHint"]

	startCtx, cancel := context.WithTimeout(ctx, o.startTimeout)
	defer cancel()
	if err := rec.Start(startCtx, run.WorkspacePath, withResumeHint(run.Metadata, resumeHint, maxSeq)); err != nil {
		_ = o.sessions.SetStatus(runID, core.StatusCrashed, nowMillis())
		return err
	}
	o.recordPID(runID, rec.Handle())

	o.mu.Lock()
	o.table[runID] = rec
	o.mu.Unlock()

	return nil
}

// withResumeHint is a narrow helper keeping Resume readable; the
// Recorder's Start signature takes a plain metadata map so resumeAdapter
// can recover the hint and maxSeq from it without widening the Adapter
// contract just for this one kind of call.
func withResumeHint(metadata map[string]any, resumeHint any, maxSeq int64) map[string]any {
	out := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	out["resumeHint"] = resumeHint
	out["resumeFromSeq"] = maxSeq + 1
	return out
}

// resumeAdapter adapts a Resumable adapter's Resume method to the plain
// Adapter.Start signature the Recorder calls, reading the resume hint
// back out of the metadata bag withResumeHint packed it into.
type resumeAdapter struct {
	adapter.Resumable
}

func (r resumeAdapter) Start(ctx context.Context, workspacePath string, metadata map[string]any, sink adapter.Sink) (adapter.Handle, error) {
	hint := metadata["resumeHint"]
	return r.Resumable.Resume(ctx, workspacePath, metadata, hint, sink)
}

// SetLayout implements 4.7.7: a thin forward to C2, orthogonal to the
// event log.
func (o *Orchestrator) SetLayout(runID, clientID, tileID string) error {
	return o.sessions.SetLayout(runID, clientID, tileID)
}

// RecoverCrashedRuns implements 4.7.8: at process start, any run left in
// starting/running status did not survive the previous process, since no
// Recorder exists yet to prove otherwise. If the run's metadata recorded
// a pid and that process is still alive (a detached adapter child can
// outlive a restart), the run is left alone; otherwise it is forced to
// crashed and a system/host-restart marker event is appended.
func (o *Orchestrator) RecoverCrashedRuns() error {
	runs, err := o.sessions.FindByStatuses(core.StatusStarting, core.StatusRunning)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if pid, ok := run.Metadata["pid"].(float64); ok && processAlive(int(pid)) {
			continue
		}

		if err := o.sessions.SetStatus(run.RunID, core.StatusCrashed, nowMillis()); err != nil {
			logger.Printf("run %s: failed to mark crashed: %v", run.RunID, err)
			continue
		}

		if _, err := o.events.Append(run.RunID, core.ChannelSystem, core.TypeHostRestart, nil, nowMillis()); err != nil {
			logger.Printf("run %s: failed to append host-restart marker: %v", run.RunID, err)
		}

		o.hub.CloseRun(run.RunID)
	}

	return nil
}

// processAlive reports whether pid names a live OS process, using the
// same mitchellh/go-ps process table the teacher's crash analyzer
// consults before declaring a service dead.
func processAlive(pid int) bool {
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func newRunID(kind core.Kind) (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return fmt.Sprintf("%s-%s", kind, hex.EncodeToString(raw[:])), nil
}
