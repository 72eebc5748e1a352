// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore serves replay from an in-memory slice.
type fakeStore struct {
	mu     sync.Mutex
	events []core.Event
	fail   bool
}

func (s *fakeStore) Read(runID string, fromSeq int64, limit int) ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("%w: induced failure", core.ErrStoreUnavailable)
	}
	var out []core.Event
	for _, e := range s.events {
		if e.RunID == runID && e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) append(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func ev(runID string, seq int64) core.Event {
	return core.Event{RunID: runID, Seq: seq, Channel: "pty:stdout", Type: "chunk", Payload: []byte("x")}
}

func TestSubscribeReplaysThenGoesLiveWithNoGapOrDuplicate(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 3; i++ {
		store.append(ev("run-1", i))
	}
	h := New(store, 0)

	var mu sync.Mutex
	var got []int64
	deliver := func(e core.Event) DeliverResult {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Seq)
		return DeliverOK
	}

	_, err := h.Subscribe("run-1", 1, deliver)
	require.NoError(t, err)

	h.Publish("run-1", ev("run-1", 4))
	h.Publish("run-1", ev("run-1", 5))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestSubscribeFromMidSeqOnlyReplaysTail(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 5; i++ {
		store.append(ev("run-2", i))
	}
	h := New(store, 0)

	var got []int64
	_, err := h.Subscribe("run-2", 4, func(e core.Event) DeliverResult {
		got = append(got, e.Seq)
		return DeliverOK
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 5}, got)
}

func TestPublishIsIndependentPerSubscriber(t *testing.T) {
	store := &fakeStore{}
	h := New(store, 0)

	var gotA, gotB []int64
	_, err := h.Subscribe("run-3", 1, func(e core.Event) DeliverResult {
		gotA = append(gotA, e.Seq)
		return DeliverOK
	})
	require.NoError(t, err)

	_, err = h.Subscribe("run-3", 1, func(e core.Event) DeliverResult {
		gotB = append(gotB, e.Seq)
		return DeliverDrop
	})
	require.NoError(t, err)

	h.Publish("run-3", ev("run-3", 1))
	h.Publish("run-3", ev("run-3", 2))

	assert.Equal(t, []int64{1, 2}, gotA)
	assert.Empty(t, gotB, "dropped subscriber should receive nothing after its drop")
}

func TestBackpressuredSubscriberQueuesThenDropsOnWindowOverflow(t *testing.T) {
	store := &fakeStore{}
	h := New(store, 50) // tiny window: a couple of 10-byte events overflow it

	blocked := true
	var delivered []int64
	_, err := h.Subscribe("run-4", 1, func(e core.Event) DeliverResult {
		if blocked {
			return DeliverBackpressure
		}
		delivered = append(delivered, e.Seq)
		return DeliverOK
	})
	require.NoError(t, err)

	big := core.Event{RunID: "run-4", Channel: "pty:stdout", Type: "chunk", Payload: make([]byte, 40)}

	for i := int64(1); i <= 5; i++ {
		e := big
		e.Seq = i
		h.Publish("run-4", e)
	}

	// Window (50 bytes) is well under 5*40=200 bytes of queued payload,
	// so the subscriber must have been dropped before we ever unblock it.
	blocked = false
	h.Publish("run-4", core.Event{RunID: "run-4", Seq: 6, Channel: "pty:stdout", Type: "chunk", Payload: []byte("x")})

	assert.Empty(t, delivered, "dropped subscriber should never resume delivery")
}

func TestSubscribeReplayFailureReturnsError(t *testing.T) {
	store := &fakeStore{fail: true}
	h := New(store, 0)

	_, err := h.Subscribe("run-5", 1, func(core.Event) DeliverResult { return DeliverOK })
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}
