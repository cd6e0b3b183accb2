package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/bridge"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/store"
)

// BridgeOptions holds flags for the bridge command.
type BridgeOptions struct {
	*RootOptions
	StoreFlags
	OutDir      string
	Namespace   string // store artifacts under this namespace
	RunID       string
	MarksFile   string
	OpeningCash string
}

// BridgeResult summarizes a bridge run.
type BridgeResult struct {
	RunID     string   `json:"run_id"`
	Events    int      `json:"events"`
	Applied   int      `json:"applied"`
	Skipped   int      `json:"skipped"`
	Artifacts []string `json:"artifacts"`
}

// NewBridgeCommand creates the bridge command.
func NewBridgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BridgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bridge [events.jsonl]",
		Short: "Replay execution events into canonical ledger artifacts",
		Long: `Normalize, dedupe and sort execution events, replay them through a fresh
ledger, and write the canonical artifacts: normalized events, per-event
apply outcomes, the ledger state and, with --marks, an equity curve.

Events come from the file argument or, without one, from the event store.
Artifacts go to --out, to the store under --namespace, or both.

Exit codes:
  0 - Artifacts written
  2 - Schema error
  4 - Ledger invariant violated
  5 - Internal error (write failed after retries, etc.)

Examples:
  ledgerpack bridge events.jsonl --out ./artifacts
  ledgerpack bridge events.jsonl --out ./artifacts --marks marks.jsonl --opening-cash 100000
  ledgerpack bridge --db ./ledger.db --run-id run-1 --namespace run-1`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "artifact output directory")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "store artifacts in the event store under this namespace")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run to replay when the input holds several")
	cmd.Flags().StringVar(&opts.MarksFile, "marks", "", "JSONL mark prices for the equity curve")
	cmd.Flags().StringVar(&opts.OpeningCash, "opening-cash", "", "cash posted before the first event")

	return cmd
}

func runBridge(opts *BridgeOptions, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	if opts.OutDir == "" && opts.Namespace == "" {
		return NewExitError(ExitUsage, "one of --out or --namespace is required")
	}

	cfg, err := opts.Settings()
	if err != nil {
		return formatter.Fail(nil, "load configuration", err)
	}
	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		return formatter.Fail(nil, "load configuration", err)
	}

	bopts := bridge.Options{
		Ledger:  ledgerCfg,
		RunID:   opts.RunID,
		Metrics: opts.Metrics,
	}
	if opts.OpeningCash != "" {
		bopts.OpeningCash, err = decimal.NewFromString(opts.OpeningCash)
		if err != nil {
			return formatter.Fail(nil, "parse --opening-cash",
				faults.Schema(faults.CodeInvalidValue, "opening cash %q is not a decimal", opts.OpeningCash))
		}
	}
	if opts.MarksFile != "" {
		bopts.Marks, err = bridge.LoadMarks(opts.MarksFile)
		if err != nil {
			return formatter.Fail(nil, "load marks", err)
		}
	}

	raws, err := loadEvents(ctx, opts.RootOptions, opts.StoreFlags, args, opts.RunID)
	if err != nil {
		return formatter.Fail(nil, "load events", err)
	}

	var sinks bridge.MultiSink
	if opts.OutDir != "" {
		sinks = append(sinks, bridge.RetrySink{
			Next:     bridge.DirSink{Dir: opts.OutDir},
			Attempts: cfg.Sink.RetryAttempts,
			Backoff:  func(attempt int) { time.Sleep(time.Duration(attempt) * 100 * time.Millisecond) },
			Metrics:  opts.Metrics,
		})
	}
	if opts.Namespace != "" {
		st, err := openStore(opts.RootOptions, opts.StoreFlags)
		if err != nil {
			return formatter.Fail(nil, "open store", err)
		}
		defer st.Close()
		sinks = append(sinks, store.ArtifactSink{Store: st, Namespace: opts.Namespace})
	}
	bopts.Sink = sinks

	res, err := bridge.Run(ctx, raws, bopts)
	if err != nil {
		return formatter.Fail(nil, "bridge", err)
	}

	result := BridgeResult{
		RunID:     res.RunID,
		Events:    res.Events,
		Applied:   res.Applied,
		Skipped:   res.Skipped,
		Artifacts: res.Artifacts,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Bridged run %s: %d events, %d applied, %d skipped\n", result.RunID, result.Events, result.Applied, result.Skipped)
	for _, name := range result.Artifacts {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}
