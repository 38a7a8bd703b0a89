package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStateDir   string
	flagBackend    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags taken in PersistentPreRunE.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs: flags, the resolved
// configuration and a logger built from both.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// subcommand runs after it, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext not initialized; PersistentPreRunE did not run")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zotero-go",
		Short:   "Zotero save connector",
		Long:    "Authorize against a Zotero server, pick a library or collection, and save items and attachments into it.",
		Version: version,
		// Silence Cobra's default error/usage printing; main() handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "directory holding the preference store")
	cmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "preference store backend (sqlite or file)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable info logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newTargetsCmd())
	cmd.AddCommand(newTargetCmd())
	cmd.AddCommand(newSaveCmd())
	cmd.AddCommand(newAttachCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// newCLIContext resolves configuration from the four-layer override chain
// and builds the logger.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("state-dir") {
		cli.StateDir = &flagStateDir
	}

	if cmd.Flags().Changed("backend") {
		cli.Backend = &flagBackend
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		bootstrapLogger().Debug("config resolution failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(resolved, flags)
	slog.SetDefault(logger)

	logger.Debug("config resolved",
		slog.String("config_path", resolved.ConfigPath),
		slog.String("state_dir", resolved.StateDir),
		slog.String("backend", resolved.Storage.Backend),
	)

	return &CLIContext{Flags: flags, Cfg: resolved, Logger: logger}, nil
}

// bootstrapLogger is used before configuration is available. It honors
// only the CLI flags.
func bootstrapLogger() *slog.Logger {
	return buildLogger(nil, CLIFlags{Verbose: flagVerbose, Debug: flagDebug, Quiet: flagQuiet})
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. The config-file level is the baseline (warn when unset);
// --verbose, --debug and --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"

	if cfg != nil {
		level = parseLevel(cfg.Logging.LogLevel)
		format = cfg.Logging.LogFormat
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(format, os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// useJSONLogs resolves the "auto" log format: text on a terminal, JSON
// when stderr is redirected.
func useJSONLogs(format string, fd uintptr) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
