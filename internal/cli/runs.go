package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	StoreFlags
}

// RunSummary describes one stored run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Events     int    `json:"events"`
	Fills      int    `json:"fills"`
	FirstTsSim int64  `json:"first_ts_sim"`
	LastTsSim  int64  `json:"last_ts_sim"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs in the event store",
		Long: `List every run in the event store with its event and fill counts and
its synthetic time range.

Examples:
  ledgerpack runs --db ./ledger.db
  ledgerpack runs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openStore(opts.RootOptions, opts.StoreFlags)
	if err != nil {
		return formatter.Fail(nil, "open store", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return formatter.Fail(nil, "list runs", err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, RunSummary(r))
	}

	if opts.Format == "json" {
		return formatter.Success(summaries)
	}
	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No runs found in store.")
		return nil
	}
	for _, r := range summaries {
		fmt.Fprintf(out, "%s\t%d events\t%d fills\tts_sim %d..%d\n", r.RunID, r.Events, r.Fills, r.FirstTsSim, r.LastTsSim)
	}
	return nil
}
