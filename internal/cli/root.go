package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/config"
	"github.com/roach88/ledgerpack/internal/metrics"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	ConfigFile  string
	EnvFile     string
	MetricsFile string

	// Config is loaded on first use from ConfigFile, EnvFile and the
	// environment.
	Config *config.Config

	// Metrics collects counters for the run. Nil disables collection.
	Metrics *metrics.Metrics
}

// Settings returns the loaded configuration, loading it on first use.
func (o *RootOptions) Settings() (config.Config, error) {
	if o.Config != nil {
		return *o.Config, nil
	}
	cfg, err := config.Loader{File: o.ConfigFile, EnvFile: o.EnvFile}.Load()
	if err != nil {
		return config.Config{}, err
	}
	o.Config = &cfg
	return cfg, nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ledgerpack CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerpack",
		Short: "ledgerpack - deterministic execution ledger and replay packs",
		Long: `Replays broker execution events through a double-entry ledger and
packages runs as content-addressed replay bundles that any machine can
validate and replay byte for byte.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			if opts.Metrics == nil {
				opts.Metrics = metrics.New()
			}
			if _, err := opts.Settings(); err != nil {
				return opts.formatter(cmd).Fail(nil, "load configuration", err)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with LEDGERPACK_* overrides")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")

	// Add subcommands
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewBridgeCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Metrics
// are flushed whether or not the command succeeded.
func Execute(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()

	if opts.MetricsFile != "" {
		if werr := opts.Metrics.WriteTextfile(opts.MetricsFile); werr != nil {
			slog.Warn("failed to write metrics", "path", opts.MetricsFile, "error", werr)
		}
	}

	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(stderr, "Error:", err)
		}
	}
	return GetExitCode(err)
}

// setupLogging routes slog to w. Verbose enables debug records.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
