// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package adapter defines the polymorphic contract over run-kind variants
// (spec §4.4) and the registry that turns a kind string into a concrete
// adapter instance. The contract is implemented as an interface + factory
// map, never as inheritance: the set of kinds is open, and no kind shares
// base state with another.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fwdslsh/dispatch/internal/core"
)

// Event is a (channel, type, payload) tuple pushed by an adapter into its
// Sink in arrival order. Timestamps are assigned by the caller (the Event
// Recorder), not by the adapter.
type Event struct {
	Channel string
	Type    string
	Payload []byte
}

// Sink receives adapter output. It must not block for long: an adapter
// that cannot push because the Recorder is backed up should treat its
// own internal buffering as the overflow valve, not Sink itself.
type Sink func(Event)

// ExitCallback is invoked exactly once when the underlying process exits
// for any reason.
type ExitCallback func(code int, reason string)

// Handle is an opaque reference to a live adapter instance, returned by
// Start and consumed by Input/Resize/Close/OnExit.
type Handle interface {
	// OnExit registers cb to run when the adapter's process exits. Only
	// one callback may be registered; registering again replaces it.
	OnExit(cb ExitCallback)
}

// Adapter is the polymorphic contract a run kind must implement (spec
// §4.4).
type Adapter interface {
	// Start launches the backing process/resource and must not return
	// until it is live and capable of accepting input. workspacePath is
	// the adapter's working directory; metadata is the run's opaque
	// key/value bag. sink receives output in production order.
	Start(ctx context.Context, workspacePath string, metadata map[string]any, sink Sink) (Handle, error)

	// Input forwards bytes to the handle; ordering is preserved per
	// handle.
	Input(h Handle, data []byte) error

	// Resize forwards a terminal size change. Adapters without a TTY
	// treat this as a no-op.
	Resize(h Handle, cols, rows int) error

	// Close requests graceful shutdown; pending output must be drained
	// into sink before this returns.
	Close(h Handle) error
}

// Resumable is implemented by adapters whose kind supports resume (spec
// §4.7.6). Adapters that don't implement it (e.g. the PTY adapter) always
// yield core.ErrNotResumable from the orchestrator.
type Resumable interface {
	Adapter

	// Resume launches a fresh backing process/resource continuing a
	// previous run, using resumeHint derived from the run's metadata.
	Resume(ctx context.Context, workspacePath string, metadata map[string]any, resumeHint any, sink Sink) (Handle, error)
}

// GraceConfigurable is implemented by adapters whose Close honors a
// grace period before force-terminating the underlying process (spec §5
// and §6.4's closeGraceMs). The orchestrator configures this on every
// freshly constructed adapter instance before starting it; adapters with
// nothing to force-terminate (e.g. the file-editor adapter) need not
// implement it.
type GraceConfigurable interface {
	SetCloseGrace(d time.Duration)
}

// PIDProvider is implemented by adapters whose Handle is backed by an OS
// process, letting the orchestrator record a liveness-checkable pid in
// the run's metadata for crash recovery (spec §4.7.8).
type PIDProvider interface {
	PID() (pid int, ok bool)
}

// Factory constructs a fresh Adapter instance for one run. Adapters are
// not shared across runs: each run gets its own instance so that
// per-handle state (e.g. the child process) never leaks across runs of
// the same kind.
type Factory func() Adapter

// Registry is the process-wide mapping from kind to adapter factory.
// Factories are registered at startup and never removed (spec §4.4, §9).
type Registry struct {
	mu        sync.RWMutex
	factories map[core.Kind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[core.Kind]Factory)}
}

// Register installs factory under kind. Intended to be called only
// during startup wiring.
func (r *Registry) Register(kind core.Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// New constructs a fresh Adapter for kind. Returns core.ErrUnknownKind if
// no factory is registered.
func (r *Registry) New(kind core.Kind) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", kind, core.ErrUnknownKind)
	}
	return factory(), nil
}

// Supports reports whether kind has a registered factory.
func (r *Registry) Supports(kind core.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}
