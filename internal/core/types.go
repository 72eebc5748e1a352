// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package core

// Run is the central entity (spec §3.1): one instance of a launched
// adapter with a stable identity, the unit of event streaming.
type Run struct {
	RunID              string
	Kind               Kind
	WorkspacePath      string
	Status             RunStatus
	Metadata           map[string]any
	OwnerClientLayouts map[string]string
	CreatedAt          int64
	UpdatedAt          int64
}

// Event is an immutable, seq-numbered record appended to a run's log
// (spec §3.1).
type Event struct {
	RunID   string
	Seq     int64
	Channel string
	Type    string
	Payload []byte
	Ts      int64
}

// Workspace is external metadata consumed when creating or attaching to
// a run (spec §3.1, §4.3).
type Workspace struct {
	Path          string
	Name          string
	ThemeOverride string
	LastActive    int64
	CreatedAt     int64
	UpdatedAt     int64
}

// Channel/type tags used by the system channel (spec §3.1, §4.5, §4.7.8).
const (
	ChannelSystem = "system"

	TypeOverflow    = "overflow"
	TypeExit        = "exit"
	TypeError       = "error"
	TypeHostRestart = "host-restart"
)
