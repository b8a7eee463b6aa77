package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Mishiranu/threadwatch/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the global flags taken in the pre-run phase.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries the resolved configuration and logger to subcommands.
type CLIContext struct {
	Flags   CLIFlags
	Logger  *slog.Logger
	Cfg     *config.Config
	CfgPath string

	// Overrides are kept so daemon reloads can re-apply them.
	Env config.EnvOverrides
	CLI config.CLIOverrides

	logFile io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. It
// panics if called from a command that bypassed the root command.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("threadwatch: command run without CLI context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threadwatch",
		Short:   "Watch remote threads for new posts",
		Long:    "A daemon and CLI that periodically re-checks favorite threads and streams new-post counters to UIs.",
		Version: version,
		// Silence Cobra's default error/usage printing; main reports errors.
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE:  loadCLIContext,
		PersistentPostRunE: closeCLIContext,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable info logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newFavCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain, builds the logger and stores both in the command context.
func loadCLIContext(cmd *cobra.Command, _ []string) error {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("wifi-only"); f != nil && f.Changed {
		v := flagWifiOnly
		cli.WifiOnly = &v
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cli.Listen = flagListen
	}

	env := config.ReadEnvOverrides()

	cfg, path, err := config.Resolve(env, cli, bootstrapLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logFile, err := buildLogger(cfg, flags)
	if err != nil {
		return err
	}

	cc := &CLIContext{
		Flags:   flags,
		Logger:  logger,
		Cfg:     cfg,
		CfgPath: path,
		Env:     env,
		CLI:     cli,
		logFile: logFile,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func closeCLIContext(cmd *cobra.Command, _ []string) error {
	cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
	if !ok || cc.logFile == nil {
		return nil
	}

	return cc.logFile.Close()
}

// bootstrapLogger is used before the config is loaded. It logs warnings
// and above unless a verbosity flag says otherwise.
func bootstrapLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: flagLevel(CLIFlags{Verbose: flagVerbose, Debug: flagDebug, Quiet: flagQuiet}, slog.LevelWarn),
	}))
}

// flagLevel applies the verbosity flags on top of base. CLI flags always
// win over the config file.
func flagLevel(flags CLIFlags, base slog.Level) slog.Level {
	switch {
	case flags.Debug:
		return slog.LevelDebug
	case flags.Verbose:
		return slog.LevelInfo
	case flags.Quiet:
		return slog.LevelError
	default:
		return base
	}
}

// configLevel maps the log_level setting to a slog level.
func configLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLogger creates the logger described by the logging settings. The
// returned closer is non-nil when output goes to log_file.
func buildLogger(cfg *config.Config, flags CLIFlags) (*slog.Logger, io.Closer, error) {
	level := flagLevel(flags, configLevel(cfg.LogLevel))

	var (
		out      io.Writer = os.Stderr
		closer   io.Closer
		terminal = isTerminal(os.Stderr)
	)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out, closer, terminal = f, f, false
	}

	return slog.New(newLogHandler(out, cfg.LogFormat, terminal, level)), closer, nil
}

// logFilePermissions restricts the log file to the owner.
const logFilePermissions = 0o600

// newLogHandler picks the handler for format. "auto" means text on a
// terminal and JSON otherwise.
func newLogHandler(w io.Writer, format string, terminal bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format != "text" && !terminal) {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
