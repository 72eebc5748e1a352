// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the session
// core, the way the teacher's own config package loads trellis.hjson:
// parse to a loosely-typed map, round-trip through encoding/json into a
// typed Config, then apply defaults.
package config

// Config is the root configuration structure (spec §6.4).
type Config struct {
	Version    string           `json:"version"`
	Project    ProjectConfig    `json:"project"`
	Server     ServerConfig     `json:"server"`
	Store      StoreConfig      `json:"store"`
	Workspaces WorkspacesConfig `json:"workspaces"`
	Adapters   AdaptersConfig   `json:"adapters"`
	Hub        HubConfig        `json:"hub"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
}

// ProjectConfig contains project metadata, echoed into page titles.
type ProjectConfig struct {
	Name string `json:"name"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string    `json:"host"`
	Port int       `json:"port"`
	TLS  TLSSchema `json:"tls"`
}

// TLSSchema is the on-disk shape of spec §6.4's tlsConfig option. Mode
// "" disables TLS; "file" uses Cert/Key; "tailscale" ignores Cert/Key
// and fetches a certificate for the node's Tailscale identity instead.
type TLSSchema struct {
	Mode string `json:"mode"`
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// StoreConfig locates the embedded sqlite database backing C1/C2/C3.
type StoreConfig struct {
	Path string `json:"path"`
}

// WorkspacesConfig bounds where Create (4.7.1) is willing to auto-create
// a workspace row for a path it hasn't seen before.
type WorkspacesConfig struct {
	Root string `json:"root"`
}

// AdaptersConfig holds the timeouts spec §5 assigns to adapter lifecycle
// transitions.
type AdaptersConfig struct {
	StartTimeoutMs int `json:"startTimeoutMs"`
	CloseGraceMs   int `json:"closeGraceMs"`
}

// HubConfig holds the byte bounds spec §6.4 assigns to the Event
// Recorder's pre-start buffer and the Subscription Hub's per-subscriber
// backpressure window.
type HubConfig struct {
	PreStartBufferBytes   int `json:"preStartBufferBytes"`
	SubscriberWindowBytes int `json:"subscriberWindowBytes"`
}

// AuthConfig configures the bearer token every protected endpoint
// requires (spec §6.1). An empty Token disables auth, which is only
// appropriate for loopback-only deployments.
type AuthConfig struct {
	Token string `json:"token"`
}

// LoggingConfig matches the teacher's own logging block: a level and an
// output format, consumed by the same structured logger idiom used
// throughout this repository (log.Logger with a component prefix).
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}
