// PurrSong bridge
//
// This is the main entry point for the PurrSong bridge. The bridge polls the
// PurrSong cloud for Lavviebot litter boxes, LavvieScanners, LavvieTags and
// cats, and mirrors every account into Home Assistant over MQTT discovery,
// with optional InfluxDB history and an HTTP/WebSocket API.
//
// Commands:
//
//	purrsong run                  run the daemon
//	purrsong account add|reauth|list|remove
//	purrsong snapshot <entry-id>  fetch once and print
//	purrsong token                issue an API token
//	purrsong migrate              apply schema and entry migrations
//	purrsong version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}
