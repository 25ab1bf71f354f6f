// Package main is the CLI entry point for dictd.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dictd/internal/config"
	"github.com/eliteGoblin/dictd/internal/infra"
	"github.com/eliteGoblin/dictd/internal/logging"
	"github.com/eliteGoblin/dictd/internal/protocol"
	"github.com/eliteGoblin/dictd/internal/ui"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// errReported means the failure was already printed.
var errReported = errors.New("reported")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dictd",
	Short: "Voice dictation daemon and client",
	Long: `dictd records microphone audio on command, transcribes it with an
OpenAI-compatible speech-to-text service and puts the text on the clipboard.

Bind 'dictd toggle' to a hotkey: the first press starts recording, the
second stops it and transcribes. The daemon is started on demand.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	Short:  "Run the dictation daemon in this process",
	Long: `Runs the daemon until 'dictd shutdown', SIGINT or SIGTERM.
Clients start it in the background automatically when daemon.auto_start is set.`,
	RunE: runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recording",
	RunE:  sendCommand(protocol.CommandStart, true),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop recording and transcribe",
	RunE:  sendCommand(protocol.CommandStop, false),
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Start recording, or stop and transcribe if already recording",
	RunE:  sendCommand(protocol.CommandToggle, true),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Discard the current recording",
	RunE:  sendCommand(protocol.CommandCancel, false),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and the last result",
	RunE:  sendCommand(protocol.CommandStatus, false),
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is answering",
	RunE:  sendCommand(protocol.CommandPing, false),
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon, discarding any recording in progress",
	RunE:  sendCommand(protocol.CommandShutdown, false),
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent transcriptions",
	RunE:  runHistory,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Prints the merged configuration as YAML. Use --init to write the defaults to config.yaml.`,
	RunE:  runConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	verbose      bool
	jsonOutput   bool
	noAutoStart  bool
	foreground   bool
	historyLimit int
	initConfig   bool
	timeout      time.Duration
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log client activity to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Response timeout (default from config)")

	daemonCmd.Flags().BoolVar(&foreground, "foreground", false, "Also log to stderr")
	for _, cmd := range []*cobra.Command{startCmd, toggleCmd} {
		cmd.Flags().BoolVar(&noAutoStart, "no-start", false, "Do not start the daemon if it is not running")
	}
	for _, cmd := range []*cobra.Command{statusCmd, historyCmd, versionCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of transcriptions to show")
	configCmd.Flags().BoolVar(&initConfig, "init", false, "Write the default configuration file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// sendCommand returns a RunE that sends command to the daemon, starting it first if allowed.
func sendCommand(command string, autoStart bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		paths := infra.DetectPaths()
		printer := ui.NewPrinter(os.Stdout, os.Stderr)
		logger := logging.CLI(verbose)
		defer func() { _ = logger.Sync() }()

		cfg, err := config.Load(paths.ConfigFile(), paths.EnvFile())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := newWiring(paths, cfg, logger)
		if autoStart && cfg.Daemon.AutoStart && !noAutoStart {
			started, err := w.launcher().EnsureRunning(ctx)
			if err != nil {
				printer.Error(err, paths.LogFile())
				return errReported
			}
			if started {
				logger.Info("daemon started in the background")
			}
		}

		resp, err := w.client(timeout).Send(ctx, command)
		if err != nil {
			printer.Error(err, paths.LogFile())
			return errReported
		}

		switch {
		case command == protocol.CommandStatus && jsonOutput:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
		case command == protocol.CommandStatus:
			printer.Status(resp)
		default:
			printer.Response(resp)
		}
		if !resp.Success {
			return errReported
		}
		return nil
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	cfg, err := config.Load(paths.ConfigFile(), paths.EnvFile())
	if err != nil {
		return err
	}

	logOpts := logging.Options{
		Level:      cfg.Log.Level,
		File:       paths.LogFile(),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	if foreground {
		logOpts.Console = os.Stderr
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	logger.Info("starting dictd daemon",
		zap.String("version", Version),
		zap.Int("pid", os.Getpid()),
		zap.String("runtime_dir", paths.RuntimeDir))

	w := newWiring(paths, cfg, logger)
	d, closeDeps, err := w.daemon()
	if err != nil {
		logger.Error("failed to initialize daemon", zap.Error(err))
		return err
	}
	defer closeDeps()

	if err := d.Run(context.Background()); err != nil {
		logger.Error("daemon exited with error", zap.Error(err))
		ui.NewPrinter(os.Stdout, os.Stderr).Error(err, paths.LogFile())
		return errReported
	}
	logger.Info("daemon stopped")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	history, err := infra.OpenHistory(paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()

	entries, err := history.Recent(historyLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		type entryJSON struct {
			ID          int64     `json:"id"`
			CreatedAt   time.Time `json:"created_at"`
			Text        string    `json:"text"`
			DurationMS  int64     `json:"duration_ms"`
			WindowClass string    `json:"window_class,omitempty"`
		}
		out := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, entryJSON{e.ID, e.CreatedAt, e.Text, e.Duration.Milliseconds(), e.WindowClass})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	ui.NewPrinter(os.Stdout, os.Stderr).History(entries)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	printer := ui.NewPrinter(os.Stdout, os.Stderr)

	if initConfig {
		if _, err := os.Stat(paths.ConfigFile()); err == nil {
			return fmt.Errorf("%s already exists", paths.ConfigFile())
		}
		if err := config.WriteConfig(paths.ConfigFile(), config.DefaultConfig()); err != nil {
			return err
		}
		printer.Info("Wrote %s", paths.ConfigFile())
		return nil
	}

	cfg, err := config.Load(paths.ConfigFile(), paths.EnvFile())
	if err != nil {
		return err
	}
	data, err := configYAML(cfg)
	if err != nil {
		return err
	}
	printer.Info("# %s", paths.ConfigFile())
	fmt.Print(data)
	if cfg.Transcription.APIKey == "" {
		printer.Info("# transcription API key: not set")
	} else {
		printer.Info("# transcription API key: set")
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("dictd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
