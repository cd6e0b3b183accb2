package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/validator"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <bundle-dir>",
		Short: "Validate a replay bundle without replaying it",
		Long: `Validate a replay bundle against its contract: required files, the
manifest schema, per-file hashes and sizes, the bundle id, the sums file,
LF line endings, event ordering, the absence of floats and the market data
refs document.

Exit codes:
  0 - Bundle is valid
  2 - Schema or determinism violation
  3 - Hash mismatch

Examples:
  ledgerpack validate ./bundle
  ledgerpack validate ./bundle --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd, args[0])
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command, dir string) error {
	formatter := opts.formatter(cmd)

	report, err := validator.Validate(dir)
	if err != nil {
		opts.Metrics.Validation(faults.CodeOf(err))
		var data any
		if report != nil {
			data = canonicalData(report.Object())
		}
		return formatter.Fail(data, "bundle invalid", err)
	}

	opts.Metrics.Validation("")

	if opts.Format == "json" {
		return formatter.Success(canonicalData(report.Object()))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Bundle valid: %s\n", report.BundleID)
	fmt.Fprintf(out, "  run %s, contract v%d, %d files\n", report.RunID, report.ContractVersion, len(report.Files))
	for _, c := range report.Checks {
		formatter.VerboseLog("  check %s passed", c)
	}
	return nil
}
