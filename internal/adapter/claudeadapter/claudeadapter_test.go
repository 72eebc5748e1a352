// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claudeadapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFailsWithoutCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	a := &Adapter{Binary: fakeCLIBinary(t)}
	_, err := a.Start(context.Background(), t.TempDir(), nil, func(adapter.Event) {})
	assert.ErrorIs(t, err, core.ErrAdapterMisconfigured)
}

func TestStartFailsWithUnknownBinary(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	a := &Adapter{Binary: "definitely-not-a-real-claude-binary"}
	_, err := a.Start(context.Background(), t.TempDir(), nil, func(adapter.Event) {})
	require.Error(t, err)
}

func TestClassifyMapsKnownTypes(t *testing.T) {
	assert.Equal(t, "startTurn", classify("message_start"))
	assert.Equal(t, "text", classify("content_block_delta"))
	assert.Equal(t, "toolUse", classify("tool_use"))
	assert.Equal(t, "toolResult", classify("tool_result"))
	assert.Equal(t, "endTurn", classify("message_stop"))
	assert.Equal(t, "text", classify("something_new"))
}

// fakeCLIBinary writes a trivial executable script that looks enough
// like a binary to satisfy exec.LookPath, used only to get past the
// binary-exists check in tests that exercise the credentials check.
func fakeCLIBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}
