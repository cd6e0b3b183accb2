package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/datarefs"
	"github.com/roach88/ledgerpack/internal/runner"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	RequireExpected bool
	Resolve         bool
	ResolveMode     string
	CacheDir        string
	WriteReports    bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <bundle-dir>",
		Short: "Replay a bundle and compare against its expected outputs",
		Long: `Validate a replay bundle, replay its events through a fresh ledger and
compare the recomputed fills and positions with the expected outputs stored
in the bundle. Decimal fields are compared as quantized strings.

With --resolve, the bundle's market data refs are looked up in the local
cache first. In strict mode a missing or mismatched required ref fails the
replay.

Exit codes:
  0 - Replay matches
  2 - Schema or determinism violation
  3 - Hash mismatch
  4 - Replay mismatch or ledger invariant violated
  6 - Required market data missing or mismatched (strict mode)

Examples:
  ledgerpack replay ./bundle
  ledgerpack replay ./bundle --require-expected --write-reports
  ledgerpack replay ./bundle --resolve --resolve-mode strict --cache-dir ./cache`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.RequireExpected, "require-expected", false, "fail when the bundle has no expected outputs")
	cmd.Flags().BoolVar(&opts.Resolve, "resolve", false, "resolve market data refs against the cache")
	cmd.Flags().StringVar(&opts.ResolveMode, "resolve-mode", "", "best-effort or strict (default from config)")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "market data cache root (default from config)")
	cmd.Flags().BoolVar(&opts.WriteReports, "write-reports", false, "store compare and resolution reports in the bundle")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, dir string) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.Settings()
	if err != nil {
		return formatter.Fail(nil, "load configuration", err)
	}

	ropts := runner.Options{
		RequireExpected:  opts.RequireExpected,
		SymbolCurrencies: cfg.SymbolCurrencies,
		WriteReports:     opts.WriteReports,
		Metrics:          opts.Metrics,
	}
	if opts.Resolve {
		mode, cacheDir, err := resolveSettings(cfg.ResolveMode(), cfg.MarketData.CacheDir, opts.ResolveMode, opts.CacheDir)
		if err != nil {
			return formatter.Fail(nil, "parse --resolve-mode", err)
		}
		ropts.ResolveMode = mode
		ropts.CacheDir = cacheDir
	}

	report, err := runner.Run(cmd.Context(), dir, ropts)
	if err != nil {
		if opts.Format != "json" {
			for _, d := range report.Diffs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s %s: expected %q, got %q\n", d.Kind, d.Key, d.Field, d.Expected, d.Actual)
			}
		}
		return formatter.Fail(canonicalData(report.Object()), "replay failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(canonicalData(report.Object()))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Replay %s: %s\n", report.Status, report.BundleID)
	fmt.Fprintf(out, "  run %s, %d events, %d fills\n", report.RunID, report.EventCount, report.FillCount)
	if report.Resolution != nil {
		r := report.Resolution
		fmt.Fprintf(out, "  market data (%s): %d resolved, %d missing, %d mismatched\n", r.Mode, r.Resolved, r.Missing, r.Mismatch)
	}
	return nil
}

// resolveSettings applies flag overrides to the configured resolution
// settings.
func resolveSettings(mode datarefs.Mode, cacheDir, modeFlag, cacheFlag string) (datarefs.Mode, string, error) {
	if modeFlag != "" {
		parsed, err := datarefs.ParseMode(modeFlag)
		if err != nil {
			return "", "", err
		}
		mode = parsed
	}
	if cacheFlag != "" {
		cacheDir = cacheFlag
	}
	return mode, cacheDir, nil
}
