// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/tailscale/tscert"
)

// TLSConfig mirrors spec §6.4's tlsConfig option: either file mode
// (static cert/key on disk, the teacher's only mode) or tailscale mode,
// which fetches a cert for the node's own MagicDNS name from the local
// tailscaled via tscert instead of requiring operator-managed files.
type TLSConfig struct {
	Mode string // "file" or "tailscale"; "" means disabled
	Cert string
	Key  string
}

// Resolve validates cfg and returns an *tls.Config to use for
// ListenAndServeTLS, or nil if TLS is disabled. File mode returns a nil
// *tls.Config (callers use ListenAndServeTLS(cert, key) directly);
// tailscale mode returns a GetCertificate-based config since the cert
// material never touches disk.
func (cfg TLSConfig) Resolve() (enabled bool, tlsConf *tls.Config, certPath, keyPath string, err error) {
	switch cfg.Mode {
	case "":
		return false, nil, "", "", nil

	case "file":
		if cfg.Cert == "" && cfg.Key == "" {
			return false, nil, "", "", nil
		}
		if cfg.Cert == "" || cfg.Key == "" {
			return false, nil, "", "", fmt.Errorf("both tls.cert and tls.key must be specified (got cert=%q, key=%q)", cfg.Cert, cfg.Key)
		}
		certPath = expandPath(cfg.Cert)
		keyPath = expandPath(cfg.Key)
		if !fileExists(certPath) {
			return false, nil, "", "", fmt.Errorf("tls cert file not found: %s", certPath)
		}
		if !fileExists(keyPath) {
			return false, nil, "", "", fmt.Errorf("tls key file not found: %s", keyPath)
		}
		return true, nil, certPath, keyPath, nil

	case "tailscale":
		return true, &tls.Config{GetCertificate: tscert.GetCertificate}, "", "", nil

	default:
		return false, nil, "", "", fmt.Errorf("unrecognized tls mode %q", cfg.Mode)
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
