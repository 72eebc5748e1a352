// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fwdslsh/dispatch/internal/app"
	"github.com/fwdslsh/dispatch/internal/config"
)

var version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("dispatch %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles "dispatch init": it writes a commented dispatch.hjson
// with every field at its documented default, matching the schema
// config.applyDefaults assigns at load time.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	force := initFlags.Bool("force", false, "Overwrite an existing dispatch.hjson")
	initFlags.Parse(os.Args[2:])

	const path = "dispatch.hjson"
	if !*force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfigHJSON), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}

const defaultConfigHJSON = `{
  version: "1"

  project: {
    // Echoed into page titles and the tailscale/file TLS cert lookup.
    name: dispatch
  }

  server: {
    host: 127.0.0.1
    port: 7777
    tls: {
      // "" disables TLS, "file" uses cert/key below, "tailscale" fetches
      // a certificate for this node's MagicDNS name automatically.
      mode: ""
      cert: ""
      key: ""
    }
  }

  store: {
    // Embedded sqlite database backing the event log, session, and
    // workspace tables.
    path: dispatch.sqlite
  }

  workspaces: {
    root: "."
  }

  adapters: {
    startTimeoutMs: 30000
    closeGraceMs: 5000
  }

  hub: {
    // Bound on the Event Recorder's pre-start buffer per run.
    preStartBufferBytes: 1048576
    // Bound on each subscriber's backpressure window in the Subscription Hub.
    subscriberWindowBytes: 4194304
  }

  auth: {
    // Bearer token required on every protected endpoint. Empty disables
    // auth entirely; only appropriate for loopback-only deployments.
    token: ""
  }

  logging: {
    level: info
    format: text
  }
}
`
