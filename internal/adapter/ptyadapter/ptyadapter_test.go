// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package ptyadapter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fwdslsh/dispatch/internal/adapter"
	"github.com/stretchr/testify/require"
)

func TestAdapterEchoesInputToStdout(t *testing.T) {
	a := &Adapter{Shell: "/bin/sh"}

	var mu sync.Mutex
	var out strings.Builder
	done := make(chan struct{})

	h, err := a.Start(context.Background(), t.TempDir(), nil, func(e adapter.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Channel == "pty:stdout" {
			out.Write(e.Payload)
			if strings.Contains(out.String(), "hello-dispatch") {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		}
	})
	require.NoError(t, err)

	require.NoError(t, a.Input(h, []byte("echo hello-dispatch\n")))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echoed output")
	}

	require.NoError(t, a.Close(h))
}
