// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hub implements the Subscription Hub (C6, spec §4.6): per-run
// fan-out from the Event Recorder to any number of independent
// subscribers, stitching store replay with live delivery into one
// contiguous, gap-free, duplicate-free sequence per subscriber. Grounded
// on the teacher's internal/service.LogBuffer subscriber-channel-map
// (internal/service/logs.go): a map of channels guarded by its own
// mutex, non-blocking publish, explicit unsubscribe-and-close. This Hub
// adds the per-subscriber bounded backpressure window and replay
// stitching the teacher's viewer-only buffer does not need.
package hub

import (
	"log"
	"os"
	"sync"

	"github.com/fwdslsh/dispatch/internal/core"
)

var logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)

const defaultSubscriberWindowBytes = 4 << 20 // 4 MiB, spec §6.4 subscriberWindowBytes

// DeliverResult is returned by a Deliver callback to tell the Hub how
// the send went.
type DeliverResult int

const (
	DeliverOK DeliverResult = iota
	DeliverBackpressure
	DeliverDrop
)

// Deliver pushes one event to a subscriber. It must not block
// indefinitely; a slow consumer should return DeliverBackpressure so the
// Hub can queue on its behalf instead.
type Deliver func(ev core.Event) DeliverResult

// Replayer is the subset of the Event Store the Hub needs to serve
// catch-up replay on subscribe.
type Replayer interface {
	Read(runID string, fromSeq int64, limit int) ([]core.Event, error)
}

// Handle identifies one subscription, returned by Subscribe and consumed
// by Unsubscribe. Dropped reports the reason if the Hub ever drops this
// subscription, so a caller whose Deliver only ever reports backpressure
// (never drop) can still learn when the Hub gave up on it.
type Handle struct {
	runID  string
	id     uint64
	notify chan core.DropReason
}

// Dropped fires, at most once, with the reason this subscription was
// dropped by the Hub (spec §4.6 DropReasonSlow). Never fires if the
// subscription is ended normally via Unsubscribe or CloseRun.
func (hd Handle) Dropped() <-chan core.DropReason {
	return hd.notify
}

type subscriber struct {
	id            uint64
	deliver       Deliver
	cursor        int64 // last seq successfully delivered
	queue         []core.Event
	queueBytes    int
	backpressured bool
	windowBytes   int
	dropReason    core.DropReason
	dropped       bool
	notify        chan core.DropReason
}

type runSubs struct {
	mu   sync.Mutex
	subs map[uint64]*subscriber
}

// Hub fans out published events to subscribers, independently per run.
type Hub struct {
	store Replayer

	windowBytes int

	mu   sync.Mutex
	runs map[string]*runSubs
	next uint64
}

// New constructs a Hub backed by store for catch-up replay.
// subscriberWindowBytes <= 0 uses the spec default of 4 MiB.
func New(store Replayer, subscriberWindowBytes int) *Hub {
	if subscriberWindowBytes <= 0 {
		subscriberWindowBytes = defaultSubscriberWindowBytes
	}
	return &Hub{
		store:       store,
		windowBytes: subscriberWindowBytes,
		runs:        make(map[string]*runSubs),
	}
}

func (h *Hub) runFor(runID string) *runSubs {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[runID]
	if !ok {
		rs = &runSubs{subs: make(map[uint64]*subscriber)}
		h.runs[runID] = rs
	}
	return rs
}

// Subscribe replays [fromSeq..currentMaxSeq] from the store, then
// switches to live fan-out, stitched so the subscriber never sees a gap
// or a duplicate (spec §4.6). The replay runs on the calling goroutine
// before Subscribe returns, under the run's subscriber lock, so any
// event published concurrently during replay is queued rather than lost.
func (h *Hub) Subscribe(runID string, fromSeq int64, deliver Deliver) (Handle, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}

	rs := h.runFor(runID)

	h.mu.Lock()
	id := h.next
	h.next++
	h.mu.Unlock()

	notify := make(chan core.DropReason, 1)
	sub := &subscriber{id: id, deliver: deliver, cursor: fromSeq - 1, windowBytes: h.windowBytes, notify: notify}

	rs.mu.Lock()
	rs.subs[id] = sub
	rs.mu.Unlock()

	events, err := h.store.Read(runID, fromSeq, 0)
	if err != nil {
		rs.mu.Lock()
		delete(rs.subs, id)
		rs.mu.Unlock()
		logger.Printf("run %s: replay failed for subscriber %d: %v", runID, id, err)
		return Handle{}, err
	}

	rs.mu.Lock()
	for _, ev := range events {
		h.deliverLocked(rs, sub, ev)
		if sub.dropped {
			break
		}
	}
	h.drainQueueLocked(rs, sub)
	rs.mu.Unlock()

	return Handle{runID: runID, id: id, notify: notify}, nil
}

// Unsubscribe removes a subscription. Idempotent.
func (h *Hub) Unsubscribe(handle Handle) {
	rs := h.runFor(handle.runID)
	rs.mu.Lock()
	delete(rs.subs, handle.id)
	rs.mu.Unlock()
}

// Publish fans ev out to every live subscriber of runID. It is
// non-blocking: subscribers that cannot keep up are queued up to their
// window, then dropped with reason slow (spec §4.6).
func (h *Hub) Publish(runID string, ev core.Event) {
	rs := h.runFor(runID)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for id, sub := range rs.subs {
		h.deliverLocked(rs, sub, ev)
		if sub.dropped {
			delete(rs.subs, id)
		}
	}
}

// CloseRun ends every subscription for runID, e.g. once the Recorder for
// that run has finalized status. Live fan-out simply stops; replay-only
// attaches to a stopped run remain possible through a fresh Subscribe
// call since replay reads directly from the store.
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	rs, ok := h.runs[runID]
	delete(h.runs, runID)
	h.mu.Unlock()
	if !ok {
		return
	}
	rs.mu.Lock()
	rs.subs = make(map[uint64]*subscriber)
	rs.mu.Unlock()
}

// deliverLocked attempts delivery of ev to sub, honoring the cursor
// (only seq = cursor+1 may be delivered next) and the bounded queue.
// Must be called with rs.mu held.
func (h *Hub) deliverLocked(rs *runSubs, sub *subscriber, ev core.Event) {
	if sub.dropped {
		return
	}
	if ev.Seq != sub.cursor+1 {
		// Out of order relative to this subscriber's cursor: queue it,
		// the gap will close as earlier events are delivered or replayed.
		h.enqueueLocked(sub, ev)
		return
	}

	if sub.backpressured {
		// Already backpressured: queue ev, then retry the head of the
		// queue in case the subscriber has since caught up. Without this
		// retry a subscriber that returns DeliverBackpressure once would
		// never be drained again until some unrelated DeliverOK happened.
		h.enqueueLocked(sub, ev)
		h.drainQueueLocked(rs, sub)
		return
	}

	switch sub.deliver(ev) {
	case DeliverOK:
		sub.cursor = ev.Seq
		h.drainQueueLocked(rs, sub)
	case DeliverBackpressure:
		sub.backpressured = true
		h.enqueueLocked(sub, ev)
	case DeliverDrop:
		h.dropLocked(sub, core.DropReasonSlow)
	}
}

func (h *Hub) enqueueLocked(sub *subscriber, ev core.Event) {
	sub.queue = append(sub.queue, ev)
	sub.queueBytes += len(ev.Payload)
	if sub.queueBytes > sub.windowBytes {
		h.dropLocked(sub, core.DropReasonSlow)
	}
}

func (h *Hub) dropLocked(sub *subscriber, reason core.DropReason) {
	sub.dropped = true
	sub.dropReason = reason
	sub.queue = nil
	sub.queueBytes = 0
	select {
	case sub.notify <- reason:
	default:
	}
	logger.Printf("subscriber %d dropped: %s", sub.id, reason)
}

// drainQueueLocked delivers as much of the queued backlog as the
// subscriber will accept, in order, stopping at the first
// backpressure/drop.
func (h *Hub) drainQueueLocked(rs *runSubs, sub *subscriber) {
	sub.backpressured = false
	for len(sub.queue) > 0 {
		next := sub.queue[0]
		if next.Seq != sub.cursor+1 {
			break
		}
		switch sub.deliver(next) {
		case DeliverOK:
			sub.cursor = next.Seq
			sub.queue = sub.queue[1:]
			sub.queueBytes -= len(next.Payload)
		case DeliverBackpressure:
			sub.backpressured = true
			return
		case DeliverDrop:
			h.dropLocked(sub, core.DropReasonSlow)
			return
		}
	}
}
