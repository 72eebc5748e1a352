// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package recorder implements the Event Recorder (C5, spec §4.5): the
// per-run owner of an adapter handle and the sole writer of that run's
// event log. Grounded on the teacher's internal/service.LogBuffer
// (internal/service/logs.go) for the buffered, sequence-stamped,
// non-blocking fan-out idiom, and internal/service.Process
// (internal/service/process.go) for adapter lifecycle and exit
// classification. The teacher buffers log lines in memory only; this
// Recorder additionally flushes through a durable store and fans out via
// the Hub, since the event log here is the run's source of truth rather
// than a viewer convenience.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/storage"
)

var logger = log.New(os.Stderr, "[recorder] ", log.LstdFlags)

const defaultPreStartBufferBytes = 1 << 20 // 1 MiB, spec §6.4 preStartBufferBytes

// Publisher is the subset of the Subscription Hub the Recorder depends
// on. The Recorder never calls back into anything beyond publish/close,
// per the one-way Recorder→Hub reference spec §9 requires.
type Publisher interface {
	Publish(runID string, ev core.Event)
	CloseRun(runID string)
}

// StatusSetter is the subset of the run table the Recorder uses to
// report terminal status transitions. Only the Orchestrator mutates run
// status in the system as a whole; the Recorder calls back into it
// through this narrow interface instead of touching storage directly,
// keeping "Orchestrator is the only status mutator" (spec §3.2 invariant
// 4) true even though the Recorder is what observes the adapter exit.
type StatusSetter interface {
	SetRunStatus(runID string, status core.RunStatus)
}

// pending is one buffered pre-start event, held until the adapter
// signals ready (spec §4.5.1).
type pending struct {
	channel string
	typ     string
	payload []byte
	ts      int64
	size    int
}

// Recorder owns a single run's adapter handle and is the only writer
// appending events for that run. Sink pushes from the adapter, and
// client input/resize/close calls from the Orchestrator, are all
// serialized through a single FIFO inbox goroutine (run in Run).
type Recorder struct {
	runID            string
	store            *storage.EventStore
	hub              Publisher
	status           StatusSetter
	a                adapter.Adapter
	handle           adapter.Handle
	inbox            chan func()
	done             chan struct{}
	maxPreStartBytes int

	mu           sync.Mutex
	started      bool
	preStartBuf  []pending
	preStartSize int
	preStartDrop bool
}

// New constructs a Recorder for runID. preStartBufferBytes <= 0 uses the
// spec default of 1 MiB.
func New(runID string, store *storage.EventStore, hub Publisher, status StatusSetter, a adapter.Adapter, preStartBufferBytes int) *Recorder {
	if preStartBufferBytes <= 0 {
		preStartBufferBytes = defaultPreStartBufferBytes
	}
	return &Recorder{
		runID:            runID,
		store:            store,
		hub:              hub,
		status:           status,
		a:                a,
		inbox:            make(chan func(), 64),
		done:             make(chan struct{}),
		maxPreStartBytes: preStartBufferBytes,
	}
}

// Start launches the adapter and begins the Recorder's owning goroutine.
// It returns once adapter.Start has returned successfully and the inbox
// loop is running; the flush of any pre-start buffered events happens
// asynchronously on the inbox goroutine immediately afterward.
//
// ctx carries the adapter start deadline (spec §5: adapterStartTimeoutMs).
// adapter.Start itself is not required to observe ctx cancellation, so
// Start races it against a background call: if ctx expires first, Start
// returns core.ErrAdapterTimeout immediately and, if the adapter
// eventually does come up, closes it rather than leaking the process.
func (r *Recorder) Start(ctx context.Context, workspacePath string, metadata map[string]any) error {
	go r.run()

	type startResult struct {
		h   adapter.Handle
		err error
	}
	resCh := make(chan startResult, 1)
	go func() {
		h, err := r.a.Start(ctx, workspacePath, metadata, r.sink)
		resCh <- startResult{h, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			close(r.done)
			return res.err
		}
		r.handle = res.h
		res.h.OnExit(r.onExit)
		r.inbox <- r.flush
		return nil
	case <-ctx.Done():
		close(r.done)
		go func() {
			if res := <-resCh; res.err == nil {
				_ = r.a.Close(res.h)
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: adapter start", core.ErrAdapterTimeout)
		}
		return ctx.Err()
	}
}

// Handle returns the adapter handle for this run, populated once Start
// has returned successfully. Used by the orchestrator to probe for
// capabilities (e.g. adapter.PIDProvider) the handle may implement.
func (r *Recorder) Handle() adapter.Handle {
	return r.handle
}

// run is the Recorder's single owning goroutine: every append, and
// every adapter control call routed through Input/Resize/Close, executes
// here, one at a time, guaranteeing serialized appends for this run
// (spec §4.5.3).
func (r *Recorder) run() {
	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-r.done:
			return
		}
	}
}

// sink is the adapter.Sink passed to adapter.Start. Before the adapter
// has signaled ready (r.started false) events are queued in the
// bounded pre-start buffer; afterward they are posted to the inbox for
// an ordinary append. Either way sink never blocks on the store or the
// hub.
func (r *Recorder) sink(ev adapter.Event) {
	ts := time.Now().UnixMilli()

	r.mu.Lock()
	started := r.started
	if !started {
		r.bufferLocked(ev, ts)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.inbox <- func() { r.append(ev.Channel, ev.Type, ev.Payload, ts) }
}

// bufferLocked appends ev to the pre-start queue, dropping the oldest
// entry if the bound is exceeded. Must be called with r.mu held.
func (r *Recorder) bufferLocked(ev adapter.Event, ts int64) {
	size := len(ev.Payload)
	r.preStartBuf = append(r.preStartBuf, pending{channel: ev.Channel, typ: ev.Type, payload: ev.Payload, ts: ts, size: size})
	r.preStartSize += size

	for r.preStartSize > r.maxPreStartBytes && len(r.preStartBuf) > 1 {
		dropped := r.preStartBuf[0]
		r.preStartBuf = r.preStartBuf[1:]
		r.preStartSize -= dropped.size
		r.preStartDrop = true
	}
}

// flush drains the pre-start buffer into the store in arrival order,
// appends a system/overflow marker if anything was dropped, then marks
// the run running and begins streaming subsequent sink pushes directly
// (spec §4.5.2).
func (r *Recorder) flush() {
	r.mu.Lock()
	buf := r.preStartBuf
	overflowed := r.preStartDrop
	r.preStartBuf = nil
	r.preStartSize = 0
	r.preStartDrop = false
	r.started = true
	r.mu.Unlock()

	for _, p := range buf {
		r.append(p.channel, p.typ, p.payload, p.ts)
	}
	if overflowed {
		r.append(core.ChannelSystem, core.TypeOverflow, nil, time.Now().UnixMilli())
	}

	r.status.SetRunStatus(r.runID, core.StatusRunning)
}

// append performs one serialized, durable append and fans it out. Any
// failure is treated as fatal for the run per the §4.5 error policy:
// best-effort system/error event, adapter close, status crashed, close
// the hub stream.
func (r *Recorder) append(channel, eventType string, payload []byte, ts int64) {
	seq, err := r.store.Append(r.runID, channel, eventType, payload, ts)
	if err != nil {
		r.fail(err)
		return
	}

	r.hub.Publish(r.runID, core.Event{
		RunID:   r.runID,
		Seq:     seq,
		Channel: channel,
		Type:    eventType,
		Payload: payload,
		Ts:      ts,
	})
}

func (r *Recorder) fail(cause error) {
	logger.Printf("run %s: append failed: %v", r.runID, cause)

	errPayload := []byte(fmt.Sprintf(`{"error":%q}`, cause.Error()))
	if _, err := r.store.Append(r.runID, core.ChannelSystem, "error", errPayload, time.Now().UnixMilli()); err != nil {
		logger.Printf("run %s: best-effort error event also failed: %v", r.runID, err)
	}

	if r.handle != nil {
		_ = r.a.Close(r.handle)
	}
	r.status.SetRunStatus(r.runID, core.StatusCrashed)
	r.hub.CloseRun(r.runID)
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Input routes client input to the adapter, serialized through the
// inbox so it interleaves deterministically with appends.
func (r *Recorder) Input(data []byte) error {
	errCh := make(chan error, 1)
	r.inbox <- func() { errCh <- r.a.Input(r.handle, data) }
	return <-errCh
}

// Resize routes a terminal resize to the adapter.
func (r *Recorder) Resize(cols, rows int) error {
	errCh := make(chan error, 1)
	r.inbox <- func() { errCh <- r.a.Resize(r.handle, cols, rows) }
	return <-errCh
}

// Close requests adapter shutdown. The terminal system/exit event and
// status transition happen in onExit once the adapter actually reports
// exit, not here.
func (r *Recorder) Close() error {
	return r.a.Close(r.handle)
}

// onExit is the adapter.ExitCallback. It appends the terminal
// system/exit event, sets status to stopped or crashed depending on the
// exit reason, then tears down the Recorder's own goroutine (spec
// §4.5.6).
func (r *Recorder) onExit(code int, reason string) {
	payload := []byte(fmt.Sprintf(`{"code":%d,"reason":%q}`, code, reason))

	done := make(chan struct{})
	r.inbox <- func() {
		r.append(core.ChannelSystem, core.TypeExit, payload, time.Now().UnixMilli())
		close(done)
	}
	<-done

	status := core.StatusStopped
	if code != 0 || reason != "exit" {
		status = core.StatusCrashed
	}
	r.status.SetRunStatus(r.runID, status)
	r.hub.CloseRun(r.runID)

	select {
	case <-r.done:
	default:
		close(r.done)
	}
}
