// Package cmd provides the CLI commands for docsearch.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/daemon"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/profiling"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

// Persistent flag state
var (
	debugMode      bool
	loggingCleanup func()

	profileCfg     profiling.Config
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for docsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Multi-tenant document search service",
		Long: `docsearch hosts many independent full-text indexes behind one daemon.

Writes are queued and applied in the background; searches see them after
the next periodic commit. The daemon serves HTTP and a local Unix socket,
and every command below talks to it over the socket.

Start with 'docsearch daemon start'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docsearch version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.docsearch/logs/")
	cmd.PersistentFlags().StringVar(&profileCfg.CPUPath, "profile-cpu", "", "Write a CPU profile to `file`")
	cmd.PersistentFlags().StringVar(&profileCfg.HeapPath, "profile-mem", "", "Write a heap profile to `file` on exit")
	cmd.PersistentFlags().StringVar(&profileCfg.TracePath, "profile-trace", "", "Write an execution trace to `file`")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if err := startLogging(c, args); err != nil {
			return err
		}
		return startProfiling(c, args)
	}
	cmd.PersistentPostRunE = func(c *cobra.Command, args []string) error {
		profErr := stopProfiling(c, args)
		logErr := stopLogging(c, args)
		if profErr != nil {
			return profErr
		}
		return logErr
	}

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDocsCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables file logging when --debug is set.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug_logging_enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if !profileCfg.Enabled() {
		return nil
	}
	s, err := profiling.Start(profileCfg)
	if err != nil {
		return err
	}
	profileSession = s
	return nil
}

func stopProfiling(_ *cobra.Command, _ []string) error {
	if profileSession == nil {
		return nil
	}
	err := profileSession.Stop()
	profileSession = nil
	return err
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the effective configuration for the working directory.
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	return config.Load(dir)
}

// connect returns a client for the configured daemon, or an error telling
// the user to start it.
func connect() (*daemon.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client := daemon.NewClient(daemon.FromConfig(cfg))
	if !client.IsRunning() {
		return nil, fmt.Errorf("daemon is not running; run 'docsearch daemon start' first")
	}
	return client, nil
}
