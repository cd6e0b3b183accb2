package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/datarefs"
	"github.com/roach88/ledgerpack/internal/event"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/metrics"
	"github.com/roach88/ledgerpack/internal/validator"
)

// Report statuses.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// Options configures a replay.
type Options struct {
	// SkipValidation trusts the bundle. Use only on bundles validated in the
	// same process.
	SkipValidation bool

	// RequireExpected fails when the bundle carries no expected outputs.
	RequireExpected bool

	// SymbolCurrencies is passed to the replay engine.
	SymbolCurrencies map[string]string

	// ResolveMode enables market-data resolution against CacheDir. Empty
	// skips resolution.
	ResolveMode datarefs.Mode
	CacheDir    string

	// WriteReports embeds the compare and resolution reports in the bundle
	// and re-derives the sums file.
	WriteReports bool

	Metrics *metrics.Metrics
}

// Run validates the bundle at dir, replays its events through a fresh
// engine and diffs the result against the stored expected outputs.
//
// A report is returned whenever the bundle could be read far enough to
// describe; err is the typed failure, if any, and ExitCodeFor(err) gives the
// process exit code.
func Run(ctx context.Context, dir string, opts Options) (*CompareReport, error) {
	report := &CompareReport{}
	err := run(ctx, dir, opts, report)
	report.finish(err)
	opts.Metrics.Compare(report.ExitCode)

	slog.Info("replay finished",
		"bundle_id", report.BundleID,
		"status", report.Status,
		"exit_code", report.ExitCode,
		"diffs", len(report.Diffs),
	)
	return report, err
}

func run(ctx context.Context, dir string, opts Options, report *CompareReport) error {
	var manifest *contract.Manifest
	if opts.SkipValidation {
		m, _, err := contract.ReadManifest(dir)
		if err != nil {
			return err
		}
		manifest = m
	} else {
		vr, err := validator.Validate(dir)
		if err != nil {
			if vr != nil && vr.Manifest != nil {
				report.BundleID = vr.BundleID
				report.RunID = vr.RunID
			}
			return err
		}
		manifest = vr.Manifest
	}
	report.BundleID = manifest.BundleID
	report.RunID = manifest.RunID

	if err := ctx.Err(); err != nil {
		return err
	}

	events, err := loadBundleEvents(dir)
	if err != nil {
		return err
	}
	report.EventCount = len(events)

	cfg := ledger.Config{
		QuoteCurrency:    manifest.QuoteCurrency,
		Policy:           manifest.Policy,
		Method:           ledger.Method(manifest.LedgerMethod),
		SymbolCurrencies: opts.SymbolCurrencies,
	}
	if manifest.HasFIFOLedger() {
		cfg.Method = ledger.MethodFIFO
	}
	engine, err := ledger.Replay(cfg, events, func(_ event.Event, res ledger.ApplyResult) {
		opts.Metrics.Event(string(res.Outcome))
	})
	if err != nil {
		return err
	}
	report.FillCount = len(engine.Fills())

	// Mismatches and strict resolution failures still produce reports, so
	// they are held until the reports are written. A resolution failure
	// takes precedence.
	var failure error
	if err := compareExpected(dir, manifest, engine, opts.RequireExpected, report); err != nil {
		if !faults.IsReplayMismatch(err) {
			return err
		}
		failure = err
	}

	if opts.ResolveMode != "" {
		if err := resolve(dir, opts, report); err != nil {
			if !faults.IsMissingDataRef(err) && !faults.IsDataRefHash(err) {
				return err
			}
			failure = err
		}
	}

	if opts.WriteReports {
		// The report is final apart from its own status fields.
		report.finish(failure)
		if err := writeReports(dir, report); err != nil {
			return err
		}
	}
	return failure
}

// loadBundleEvents re-normalizes and re-sorts the bundle's events.
func loadBundleEvents(dir string) ([]event.Event, error) {
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(contract.PathEvents)))
	if err != nil {
		return nil, fmt.Errorf("read bundle events: %w", err)
	}
	lines, err := canonical.ParseLines(data)
	if err != nil {
		return nil, err
	}
	return event.Prepare(lines)
}

// compareExpected diffs fills and positions against the stored outputs.
func compareExpected(dir string, m *contract.Manifest, engine *ledger.Engine, requireExpected bool, report *CompareReport) error {
	_, hasFills := m.Entry(contract.PathExpectedFills)
	_, hasPositions := m.Entry(contract.PathExpectedPosition)

	if !hasFills && !hasPositions {
		if requireExpected {
			report.addCode(faults.CodeExpectedMissing)
			return faults.ReplayMismatch(faults.CodeExpectedMissing, "bundle carries no expected outputs")
		}
		return nil
	}
	report.Compared = true

	if hasFills {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(contract.PathExpectedFills)))
		if err != nil {
			return fmt.Errorf("read expected fills: %w", err)
		}
		expected, err := canonical.ParseLines(data)
		if err != nil {
			return err
		}
		if diffs := DiffFills(expected, engine.FillObjects()); len(diffs) > 0 {
			report.Diffs = append(report.Diffs, diffs...)
			report.addCode(faults.CodeFillsMismatch)
		}
	} else if requireExpected {
		report.addCode(faults.CodeExpectedMissing)
	}

	if hasPositions {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(contract.PathExpectedPosition)))
		if err != nil {
			return fmt.Errorf("read expected positions: %w", err)
		}
		expected, err := canonical.ParseObject(data)
		if err != nil {
			return err
		}
		if diffs := DiffPositions(expected, engine.PositionsDocument()); len(diffs) > 0 {
			report.Diffs = append(report.Diffs, diffs...)
			report.addCode(faults.CodePositionsMismatch)
		}
	} else if requireExpected {
		report.addCode(faults.CodeExpectedMissing)
	}

	if len(report.ReasonCodes) > 0 {
		return faults.ReplayMismatch(report.ReasonCodes[0],
			"replay differs from expected outputs: %d differences", len(report.Diffs))
	}
	return nil
}

func resolve(dir string, opts Options, report *CompareReport) error {
	refs, ok, err := contract.ReadMarketDataRefs(dir)
	if err != nil {
		return err
	}
	if !ok {
		report.Resolution = &datarefs.Report{Mode: opts.ResolveMode}
		return nil
	}

	res, err := datarefs.Resolve(refs, opts.CacheDir, opts.ResolveMode, opts.Metrics)
	report.Resolution = res
	if err != nil {
		report.addCode(faults.CodeOf(err))
	}
	return err
}

// writeReports embeds the reports and re-derives sums. The reports are kept
// out of the manifest, so the bundle id is unchanged.
func writeReports(dir string, report *CompareReport) error {
	data, err := canonical.MarshalDocument(report.Object())
	if err != nil {
		return err
	}
	if err := contract.WriteFile(dir, contract.PathCompareReport, data); err != nil {
		return err
	}
	if report.Resolution != nil {
		data, err := canonical.MarshalDocument(report.Resolution.Object())
		if err != nil {
			return err
		}
		if err := contract.WriteFile(dir, contract.PathResolutionReport, data); err != nil {
			return err
		}
	}
	_, err = contract.WriteSums(dir)
	return err
}
