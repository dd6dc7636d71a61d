// Package daemon runs docsearch as a long-lived background service.
// The daemon owns the storage backend, the engine registry, the action
// queue and the drain worker, and exposes the index API over HTTP and
// over JSON-RPC on a Unix socket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/docsearch/internal/config"
)

// Config holds the process-level settings of the daemon.
type Config struct {
	// SocketPath is the Unix domain socket path for RPC.
	// Default: ~/.docsearch/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.docsearch/daemon.pid
	PIDPath string

	// HTTPAddr is the HTTP listen address. Empty disables HTTP.
	HTTPAddr string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds how long shutdown waits for in-flight work.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	dir := config.DataDir()
	return Config{
		SocketPath:          filepath.Join(dir, "daemon.sock"),
		PIDPath:             filepath.Join(dir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// FromConfig takes the daemon settings out of the application config.
func FromConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.Server.SocketPath != "" {
		c.SocketPath = cfg.Server.SocketPath
	}
	if cfg.Server.PIDPath != "" {
		c.PIDPath = cfg.Server.PIDPath
	}
	if cfg.Server.ShutdownGrace > 0 {
		c.ShutdownGracePeriod = cfg.Server.ShutdownGrace
	}
	c.HTTPAddr = cfg.Server.HTTPAddr
	return c
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories for socket and PID files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
