package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/builder"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	StoreFlags
	OutDir          string
	RunID           string
	Force           bool
	ContractVersion int
	IncludeOutputs  bool
	CreatedAt       string
	ConfigSnapshot  string
	GitDoc          string
	EnvDoc          string
	MarketDataRefs  string
}

// BuildResult describes a written bundle.
type BuildResult struct {
	Dir             string `json:"dir"`
	BundleID        string `json:"bundle_id"`
	RunID           string `json:"run_id"`
	ContractVersion int    `json:"contract_version"`
	Events          int    `json:"events"`
	Files           int    `json:"files"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build [events.jsonl]",
		Short: "Build a replay bundle for one run",
		Long: `Build a content-addressed replay bundle from execution events. The bundle
holds the normalized events, a manifest with per-file hashes and a bundle id,
and a sha256sums file. --include-outputs replays the events and stores the
expected fills and positions; contract version 2 also stores the FIFO ledger.

Building twice from the same events and flags yields identical bytes.

Exit codes:
  0 - Bundle written
  2 - Schema or determinism error
  4 - Ledger invariant violated
  5 - Internal error (output directory not empty, etc.)

Examples:
  ledgerpack build events.jsonl --out ./bundle --include-outputs
  ledgerpack build events.jsonl --out ./bundle --contract-version 2 --market-data-refs refs.json
  ledgerpack build --db ./ledger.db --run-id run-1 --out ./bundle`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "bundle output directory (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringVar(&opts.Database, "db", "", "read events from this SQLite database when no file is given")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run to package when the input holds several")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "write into a non-empty output directory")
	cmd.Flags().IntVar(&opts.ContractVersion, "contract-version", 0, "bundle contract version, 1 or 2 (default from config)")
	cmd.Flags().BoolVar(&opts.IncludeOutputs, "include-outputs", false, "replay and store expected fills and positions")
	cmd.Flags().StringVar(&opts.CreatedAt, "created-at", "", "created_at_utc override (default: first event time)")
	cmd.Flags().StringVar(&opts.ConfigSnapshot, "config-snapshot", "", "JSON document stored as inputs/config_snapshot.json")
	cmd.Flags().StringVar(&opts.GitDoc, "git", "", "JSON document stored as meta/git.json")
	cmd.Flags().StringVar(&opts.EnvDoc, "env", "", "JSON document stored as meta/env.json")
	cmd.Flags().StringVar(&opts.MarketDataRefs, "market-data-refs", "", "market data refs document to embed")

	return cmd
}

func runBuild(opts *BuildOptions, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	cfg, err := opts.Settings()
	if err != nil {
		return formatter.Fail(nil, "load configuration", err)
	}
	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		return formatter.Fail(nil, "load configuration", err)
	}

	bopts := builder.Options{
		OutDir:          opts.OutDir,
		Force:           opts.Force,
		RunID:           opts.RunID,
		ContractVersion: cfg.ContractVersion,
		Ledger:          ledgerCfg,
		IncludeOutputs:  opts.IncludeOutputs,
		CreatedAtUTC:    opts.CreatedAt,
		Metrics:         opts.Metrics,
	}
	if cmd.Flags().Changed("contract-version") {
		bopts.ContractVersion = opts.ContractVersion
	}

	if bopts.ConfigSnapshot, err = readObjectFile(opts.ConfigSnapshot); err != nil {
		return formatter.Fail(nil, "read --config-snapshot", err)
	}
	if bopts.Git, err = readObjectFile(opts.GitDoc); err != nil {
		return formatter.Fail(nil, "read --git", err)
	}
	if bopts.Env, err = readObjectFile(opts.EnvDoc); err != nil {
		return formatter.Fail(nil, "read --env", err)
	}
	if bopts.MarketDataRefs, err = readObjectFile(opts.MarketDataRefs); err != nil {
		return formatter.Fail(nil, "read --market-data-refs", err)
	}

	src, closeFn, err := eventSource(opts.RootOptions, opts.StoreFlags, args, opts.RunID)
	if err != nil {
		return formatter.Fail(nil, "open event source", err)
	}
	defer closeFn()

	res, err := builder.Build(ctx, src, bopts)
	if err != nil {
		return formatter.Fail(nil, "build bundle", err)
	}

	result := BuildResult{
		Dir:             res.Dir,
		BundleID:        res.Manifest.BundleID,
		RunID:           res.Manifest.RunID,
		ContractVersion: res.Manifest.ContractVersion,
		Events:          res.Events,
		Files:           len(res.Manifest.Contents),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Built bundle %s\n  run %s, contract v%d, %d events, %d files\n  %s\n",
		result.BundleID, result.RunID, result.ContractVersion, result.Events, result.Files, result.Dir)
	return nil
}
