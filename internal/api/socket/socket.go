// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package socket implements the bidirectional persistent socket facade
// (C8, spec §6.2): one gorilla/websocket connection per client, scoped
// by client:hello, fanning attach/input/resize/close calls into the
// Session Orchestrator and streaming run:event/run:status/run:error back.
// Grounded on the teacher's internal/api/handlers/terminal.go WebSocket
// handler: connection tracking for graceful shutdown, a write mutex
// since gorilla/websocket requires a single writer, and a ping/pong
// keepalive loop. This facade replaces that handler's direct PTY-loop
// byte pump with a (runId, seq)-addressed event stream multiplexed
// across many runs on one socket.
package socket

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fwdslsh/dispatch/internal/core"
	"github.com/fwdslsh/dispatch/internal/hub"
	"github.com/gorilla/websocket"
)

var logger = log.New(os.Stderr, "[socket] ", log.LstdFlags)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxFrameBytes  = 1 << 20 // spec §6.2 message size cap, 1 MiB per frame
	deliverChanLen = 256
)

// Orchestrator is the subset of the C7 Session Orchestrator the socket
// facade drives.
type Orchestrator interface {
	Attach(runID string, fromSeq int64, deliver hub.Deliver) (hub.Handle, error)
	Detach(handle hub.Handle)
	Input(runID string, data []byte) error
	Resize(runID string, cols, rows int) error
	Close(runID string) error
}

// AuthValidator vets the bearer token presented in client:hello.
type AuthValidator interface {
	Validate(token string) bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the envelope for every client->server event (spec
// §6.2).
type clientMessage struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId,omitempty"`
	AuthToken string `json:"authToken,omitempty"`
	RunID     string `json:"runId,omitempty"`
	FromSeq   int64  `json:"fromSeq,omitempty"`
	Bytes     []byte `json:"bytes,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// serverMessage is the envelope for every server->client event (spec
// §6.2).
type serverMessage struct {
	Type          string         `json:"type"`
	OK            bool           `json:"ok,omitempty"`
	SessionIDHint string         `json:"sessionIdHint,omitempty"`
	RunID         string         `json:"runId,omitempty"`
	Seq           int64          `json:"seq,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	EventType     string         `json:"eventType,omitempty"`
	Payload       []byte         `json:"payload,omitempty"`
	Ts            int64          `json:"ts,omitempty"`
	Status        core.RunStatus `json:"status,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Handler upgrades HTTP connections to the socket facade and multiplexes
// client:hello/run:attach/run:input/run:resize/run:close over them.
type Handler struct {
	orch      Orchestrator
	validator AuthValidator

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHandler wires a Handler to its orchestrator and auth validator.
func NewHandler(orch Orchestrator, validator AuthValidator) *Handler {
	return &Handler{orch: orch, validator: validator, conns: make(map[*websocket.Conn]struct{})}
}

// Shutdown closes every tracked connection, allowing graceful server
// shutdown (grounded on terminal.go's TerminalHandler.Shutdown).
func (h *Handler) Shutdown() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.Close()
	}
}

func (h *Handler) track(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and runs the connection's read/write
// pumps until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("upgrade failed: %v", err)
		return
	}
	h.track(conn)
	defer h.untrack(conn)

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sess := &connSession{
		handler: h,
		conn:    conn,
		subs:    make(map[string]*attachment),
	}
	defer sess.closeAllAttachments()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go sess.pingLoop(stopPing)

	for {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.writeError("", "invalid message")
			continue
		}
		sess.handle(msg)
	}
}

// attachment tracks one live run:attach subscription on this connection,
// including the buffered channel its Deliver callback feeds and the
// goroutine draining that channel onto the socket.
type attachment struct {
	runID  string
	handle hub.Handle
	events chan core.Event
	done   chan struct{}
}

type connSession struct {
	handler *Handler
	conn    *websocket.Conn

	writeMu sync.Mutex

	authed   bool
	clientID string

	mu   sync.Mutex
	subs map[string]*attachment
}

func (s *connSession) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *connSession) writeJSON(msg serverMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *connSession) writeError(runID, errMsg string) {
	s.writeJSON(serverMessage{Type: "run:error", RunID: runID, Error: errMsg})
}

func (s *connSession) writeStatus(runID string, status core.RunStatus, reason string) {
	s.writeJSON(serverMessage{Type: "run:status", RunID: runID, Status: status, Reason: reason})
}

func (s *connSession) handle(msg clientMessage) {
	switch msg.Type {
	case "client:hello":
		s.handleHello(msg)
	case "run:attach":
		s.handleAttach(msg)
	case "run:input":
		s.handleInput(msg)
	case "run:resize":
		s.handleResize(msg)
	case "run:close":
		s.handleClose(msg)
	default:
		s.writeError("", "unknown message type: "+msg.Type)
	}
}

func (s *connSession) handleHello(msg clientMessage) {
	if !s.handler.validator.Validate(msg.AuthToken) {
		s.writeJSON(serverMessage{Type: "client:hello", OK: false})
		return
	}
	s.authed = true
	s.clientID = msg.ClientID
	s.writeJSON(serverMessage{Type: "client:hello", OK: true})
}

func (s *connSession) requireAuth(runID string) bool {
	if s.authed {
		return true
	}
	s.writeError(runID, core.ErrUnauthorized.Error())
	return false
}

// handleAttach subscribes this connection to runID from fromSeq. The
// Deliver callback never blocks: it pushes onto a small buffered
// channel, and a dedicated goroutine drains that channel onto the
// socket. A full channel means this client is momentarily behind, not
// necessarily dead; the callback reports DeliverBackpressure so the Hub
// queues the event against the subscriber's own window (spec §4.6)
// instead of this socket unilaterally dropping it. The drain goroutine
// only tears the attachment down once the Hub itself gives up on the
// subscription (handle.Dropped), reporting run:error{Slow} (spec S6).
func (s *connSession) handleAttach(msg clientMessage) {
	if !s.requireAuth(msg.RunID) {
		return
	}

	at := &attachment{
		runID:  msg.RunID,
		events: make(chan core.Event, deliverChanLen),
		done:   make(chan struct{}),
	}

	deliver := func(ev core.Event) hub.DeliverResult {
		select {
		case at.events <- ev:
			return hub.DeliverOK
		default:
			return hub.DeliverBackpressure
		}
	}

	handle, err := s.handler.orch.Attach(msg.RunID, msg.FromSeq, deliver)
	if err != nil {
		s.writeError(msg.RunID, err.Error())
		return
	}
	at.handle = handle

	s.mu.Lock()
	if prev, ok := s.subs[msg.RunID]; ok {
		close(prev.done)
		s.handler.orch.Detach(prev.handle)
	}
	s.subs[msg.RunID] = at
	s.mu.Unlock()

	go s.drainAttachment(at)
}

// drainAttachment delivers queued events to the socket in order until
// the attachment is torn down (by closeAllAttachments, a fresh
// run:attach to the same runId, a write error, or the Hub dropping the
// subscription). A deliver that found the channel full has already told
// the Hub DeliverBackpressure for that event, so the Hub queues and
// retries it against the subscriber's own window rather than this loop
// losing it outright.
func (s *connSession) drainAttachment(at *attachment) {
	defer func() {
		s.mu.Lock()
		if cur, ok := s.subs[at.runID]; ok && cur == at {
			delete(s.subs, at.runID)
		}
		s.mu.Unlock()
		s.handler.orch.Detach(at.handle)
	}()

	for {
		select {
		case ev, ok := <-at.events:
			if !ok {
				return
			}
			if err := s.writeJSON(serverMessage{
				Type:      "run:event",
				RunID:     ev.RunID,
				Seq:       ev.Seq,
				Channel:   ev.Channel,
				EventType: ev.Type,
				Payload:   ev.Payload,
				Ts:        ev.Ts,
			}); err != nil {
				return
			}
		case <-at.done:
			return
		case reason := <-at.handle.Dropped():
			s.writeError(at.runID, string(reason))
			return
		}
	}
}

func (s *connSession) handleInput(msg clientMessage) {
	if !s.requireAuth(msg.RunID) {
		return
	}
	if err := s.handler.orch.Input(msg.RunID, msg.Bytes); err != nil {
		s.writeError(msg.RunID, err.Error())
	}
}

func (s *connSession) handleResize(msg clientMessage) {
	if !s.requireAuth(msg.RunID) {
		return
	}
	if err := s.handler.orch.Resize(msg.RunID, msg.Cols, msg.Rows); err != nil {
		s.writeError(msg.RunID, err.Error())
	}
}

func (s *connSession) handleClose(msg clientMessage) {
	if !s.requireAuth(msg.RunID) {
		return
	}
	if err := s.handler.orch.Close(msg.RunID); err != nil {
		s.writeError(msg.RunID, err.Error())
		return
	}
	s.writeStatus(msg.RunID, core.StatusStopped, "")
}

func (s *connSession) closeAllAttachments() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*attachment)
	s.mu.Unlock()

	for _, at := range subs {
		close(at.done)
		s.handler.orch.Detach(at.handle)
	}
}
