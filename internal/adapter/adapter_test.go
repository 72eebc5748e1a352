// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"testing"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ exit ExitCallback }

func (h *fakeHandle) OnExit(cb ExitCallback) { h.exit = cb }

type fakeAdapter struct{}

func (fakeAdapter) Start(ctx context.Context, workspacePath string, metadata map[string]any, sink Sink) (Handle, error) {
	return &fakeHandle{}, nil
}
func (fakeAdapter) Input(h Handle, data []byte) error       { return nil }
func (fakeAdapter) Resize(h Handle, cols, rows int) error   { return nil }
func (fakeAdapter) Close(h Handle) error                    { return nil }

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(core.KindPTY)
	assert.ErrorIs(t, err, core.ErrUnknownKind)
	assert.False(t, r.Supports(core.KindPTY))
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register(core.KindPTY, func() Adapter { return fakeAdapter{} })

	assert.True(t, r.Supports(core.KindPTY))
	a, err := r.New(core.KindPTY)
	require.NoError(t, err)

	h, err := a.Start(context.Background(), "/w", nil, func(Event) {})
	require.NoError(t, err)
	assert.NotNil(t, h)
}
