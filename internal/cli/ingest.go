package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/event"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	StoreFlags
}

// IngestFileResult is the outcome for one input file.
type IngestFileResult struct {
	File       string `json:"file"`
	BatchID    string `json:"batch_id"`
	Received   int    `json:"received"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <events.jsonl>...",
		Short: "Append execution events to the event store",
		Long: `Normalize execution event logs and append them to the SQLite event
store. Each file is ingested in its own transaction. Events already stored
with identical content are counted as duplicates; an event id stored with
different content fails the whole file.

Exit codes:
  0 - All files ingested
  2 - Schema error or event id conflict
  5 - Internal error (database not writable, etc.)

Examples:
  ledgerpack ingest events.jsonl
  ledgerpack ingest --db ./ledger.db day1.jsonl day2.jsonl`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command, files []string) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	st, err := openStore(opts.RootOptions, opts.StoreFlags)
	if err != nil {
		return formatter.Fail(nil, "open store", err)
	}
	defer st.Close()

	results := make([]IngestFileResult, 0, len(files))
	for _, file := range files {
		raws, err := event.ReadJSONL(file)
		if err != nil {
			return formatter.Fail(results, fmt.Sprintf("read %s", file), err)
		}
		res, err := st.Ingest(ctx, raws, file)
		if err != nil {
			return formatter.Fail(results, fmt.Sprintf("ingest %s", file), err)
		}
		results = append(results, IngestFileResult{
			File:       file,
			BatchID:    res.BatchID,
			Received:   res.Received,
			Inserted:   res.Inserted,
			Duplicates: res.Duplicates,
		})
		formatter.VerboseLog("ingested %s as batch %s", file, res.BatchID)
	}

	if opts.Format == "json" {
		return formatter.Success(results)
	}
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "✓ %s: %d inserted, %d duplicates (batch %s)\n", r.File, r.Inserted, r.Duplicates, r.BatchID)
	}
	return nil
}
