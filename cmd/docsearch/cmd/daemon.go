package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/daemon"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/profiling"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background search daemon",
		Long: `The daemon owns every index, the mutation queue and the worker that
applies it. It serves HTTP on server.http_addr and JSON-RPC on a Unix socket.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and health`,
		Example: `  docsearch daemon start      # Start daemon in background
  docsearch daemon start -f   # Run in foreground (for debugging)
  docsearch daemon status     # Check if daemon is running
  docsearch daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the search daemon in the background.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running search daemon.

Sends SIGTERM for a graceful shutdown: queued actions are applied and every
index is committed before the process exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show whether the daemon is running, its process ID, uptime, storage
backend, queue depth, worker counters and the live indexes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := output.New(cmd.OutOrStdout())
	app, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := daemon.FromConfig(app)

	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.Level = app.Server.LogLevel
		if debugMode {
			logCfg.Level = "debug"
		}
		logger, cleanup, err := logging.Setup(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		defer cleanup()

		out.Status("", "Starting daemon in foreground...")
		out.Statusf("", "Socket: %s", cfg.SocketPath)
		if cfg.HTTPAddr != "" {
			out.Statusf("", "HTTP:   %s", cfg.HTTPAddr)
		}
		out.Statusf("", "Logs:   %s", logCfg.FilePath)
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()

		d, err := daemon.NewDaemon(cfg, app, daemon.WithLogger(logger))
		if err != nil {
			logger.Error("daemon_create_failed", slog.String("error", err.Error()))
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	out.Status("", "Starting daemon in background...")

	// Re-execute self with foreground flag
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice early exits.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	app, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := daemon.FromConfig(app)

	// Shutdown drains the queue and commits, so allow the full grace period.
	pid, killed, err := daemon.PIDFile(cfg.PIDPath).Stop(cfg.ShutdownGracePeriod+5*time.Second, 100*time.Millisecond)
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
		out.Status("", "Daemon is not running")
		return nil
	case err != nil:
		return fmt.Errorf("failed to stop daemon: %w", err)
	case killed:
		out.Warningf("Daemon did not exit in time, killed pid %d", pid)
	default:
		out.Successf("Daemon stopped (was pid: %d)", pid)
	}
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	app, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := daemon.FromConfig(app)
	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			return out.JSON(daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'docsearch daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		return out.JSON(status)
	}

	printStatus(out, status, cfg.SocketPath)
	return nil
}

func printStatus(out *output.Writer, status *daemon.StatusResult, socket string) {
	out.Header("Daemon is running")
	out.KeyValue("PID", status.PID)
	out.KeyValue("Uptime", status.Uptime)
	out.KeyValue("Backend", status.Backend)
	out.KeyValue("Socket", socket)
	if status.HTTPAddr != "" {
		out.KeyValue("HTTP", status.HTTPAddr)
	}
	out.KeyValue("Queue depth", status.QueueDepth)
	out.KeyValue("Heap", profiling.FormatBytes(status.HeapBytes))
	out.KeyValue("Processed", status.Worker.Processed)
	out.KeyValue("No-ops", status.Worker.NoOps)
	out.KeyValue("Dropped", status.Worker.Dropped)
	out.KeyValue("Failed", status.Worker.Failed)
	if s := status.Search; s != nil {
		out.KeyValue("Searches", s.TotalSearches)
		out.KeyValue("Zero hits", fmt.Sprintf("%d (%.1f%%)", s.ZeroHitCount, s.ZeroHitPercentage()))
	}

	if len(status.Engines) == 0 {
		out.Newline()
		out.Dim("No indexes loaded")
		return
	}
	out.Newline()
	rows := make([][]string, 0, len(status.Engines))
	for _, e := range status.Engines {
		rows = append(rows, []string{
			e.Name,
			fmt.Sprint(e.Fields),
			fmt.Sprint(e.Documents),
			fmt.Sprint(e.Uncommitted),
		})
	}
	out.Table([]string{"INDEX", "FIELDS", "DOCS", "PENDING"}, rows)
}
