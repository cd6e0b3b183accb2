package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/datarefs"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	ResolveMode string
	CacheDir    string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <bundle-dir>",
		Short: "Resolve a bundle's market data refs against the local cache",
		Long: `Look up every market data ref of a bundle in the local cache
(<cache>/<provider>/<dataset>/<symbol>_<start>_<end>.<format>) and check
the recorded sha256 hints. Nothing is downloaded.

In best-effort mode missing data is reported but never fails. In strict
mode a required ref that is missing or mismatched fails with exit code 6.

Exit codes:
  0 - Resolution finished
  2 - Malformed refs document
  6 - Required market data missing or mismatched (strict mode)

Examples:
  ledgerpack resolve ./bundle
  ledgerpack resolve ./bundle --mode strict --cache-dir ./cache`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ResolveMode, "mode", "", "best-effort or strict (default from config)")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "market data cache root (default from config)")

	return cmd
}

func runResolve(opts *ResolveOptions, cmd *cobra.Command, dir string) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.Settings()
	if err != nil {
		return formatter.Fail(nil, "load configuration", err)
	}
	mode, cacheDir, err := resolveSettings(cfg.ResolveMode(), cfg.MarketData.CacheDir, opts.ResolveMode, opts.CacheDir)
	if err != nil {
		return formatter.Fail(nil, "parse --mode", err)
	}

	refs, _, err := contract.ReadMarketDataRefs(dir)
	if err != nil {
		return formatter.Fail(nil, "read market data refs", err)
	}

	report, err := datarefs.Resolve(refs, cacheDir, mode, opts.Metrics)
	if err != nil {
		var data any
		if report != nil {
			data = canonicalData(report.Object())
		}
		return formatter.Fail(data, "resolution failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(canonicalData(report.Object()))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Resolved market data (%s): %d resolved, %d missing, %d mismatched\n",
		report.Mode, report.Resolved, report.Missing, report.Mismatch)
	for _, r := range report.Refs {
		fmt.Fprintf(out, "  %s\t%s\t%s\n", r.RefID, r.Status, r.Path)
	}
	return nil
}
