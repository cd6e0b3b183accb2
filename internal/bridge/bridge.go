package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/event"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/metrics"
)

// Artifact names written to the sink.
const (
	ArtifactNormalizedEvents = "normalized_events.jsonl"
	ArtifactAppliedEvents    = "applied_events.jsonl"
	ArtifactEquityCurve      = "equity_curve.jsonl"
	ArtifactLedgerState      = "ledger_state.json"
)

// Options configures a bridge run.
type Options struct {
	Ledger ledger.Config

	// RunID selects one run when the input holds several. Empty requires a
	// single-run input.
	RunID string

	// OpeningCash is posted before the first event when positive.
	OpeningCash decimal.Decimal

	// Marks enables the equity curve. Nil skips it.
	Marks *Marks

	Sink    Sink
	Metrics *metrics.Metrics
}

// Result summarizes a bridge run.
type Result struct {
	RunID     string
	Events    int
	Applied   int
	Skipped   int
	Artifacts []string // names written, in write order
	Engine    *ledger.Engine
}

// Run normalizes, dedupes and sorts raw, replays the result through a fresh
// engine, and writes the canonical artifacts to opts.Sink. Sorting happens
// before any write, so input order never changes the output bytes.
func Run(ctx context.Context, raw []canonical.Object, opts Options) (*Result, error) {
	if opts.Sink == nil {
		return nil, fmt.Errorf("bridge: sink is required")
	}

	all, err := event.Prepare(raw)
	if err != nil {
		return nil, err
	}
	runID, events, err := event.SelectRun(all, opts.RunID)
	if err != nil {
		return nil, err
	}

	engine, err := ledger.New(opts.Ledger)
	if err != nil {
		return nil, err
	}
	if opts.OpeningCash.IsPositive() {
		entry, err := engine.OpenCash(opts.OpeningCash)
		if err != nil {
			return nil, err
		}
		opts.Metrics.JournalEntry(string(entry.Kind))
	}

	slog.Info("bridge run",
		"run_id", runID,
		"events", len(events),
		"method", engine.Config().Method,
		"equity_curve", opts.Marks != nil,
	)

	res := &Result{RunID: runID, Events: len(events), Engine: engine}
	put := func(name string, data []byte) error {
		if err := opts.Sink.Put(ctx, name, data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		res.Artifacts = append(res.Artifacts, name)
		return nil
	}

	normalized, err := canonical.MarshalLines(event.Objects(events))
	if err != nil {
		return nil, err
	}
	if err := put(ArtifactNormalizedEvents, normalized); err != nil {
		return nil, err
	}

	var (
		applied []canonical.Object
		curve   []canonical.Object
		cursor  *MarkCursor
	)
	if opts.Marks != nil {
		cursor = opts.Marks.Cursor()
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := engine.Apply(ev)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", ev.EventID, err)
		}
		opts.Metrics.Event(string(out.Outcome))

		switch out.Outcome {
		case ledger.Conflict:
			return nil, faults.LedgerInvariant(faults.CodeEventIDConflict,
				"event %s conflicts with an applied event", ev.EventID).WithPath(ev.EventID)
		case ledger.SkippedDuplicate:
			res.Skipped++
		default:
			res.Applied++
		}
		if out.Entry != nil {
			opts.Metrics.JournalEntry(string(out.Entry.Kind))
		}

		applied = append(applied, appliedRow(i+1, ev, out))

		if cursor != nil {
			snap := engine.Snapshot(ev.TsSim, cursor.Advance(ev.TsSim), nil)
			curve = append(curve, equityRow(i+1, ev, snap))
		}
	}

	slog.Debug("bridge replay complete",
		"run_id", runID,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"journal_entries", len(engine.Journal()),
	)

	data, err := canonical.MarshalLines(applied)
	if err != nil {
		return nil, err
	}
	if err := put(ArtifactAppliedEvents, data); err != nil {
		return nil, err
	}

	if cursor != nil {
		data, err := canonical.MarshalLines(curve)
		if err != nil {
			return nil, err
		}
		if err := put(ArtifactEquityCurve, data); err != nil {
			return nil, err
		}
	}

	state, err := canonical.MarshalDocument(engine.ExportState())
	if err != nil {
		return nil, err
	}
	if err := put(ArtifactLedgerState, state); err != nil {
		return nil, err
	}
	return res, nil
}

// RunFile runs the bridge over a JSONL file of raw events.
func RunFile(ctx context.Context, path string, opts Options) (*Result, error) {
	raw, err := event.ReadJSONL(path)
	if err != nil {
		return nil, err
	}
	return Run(ctx, raw, opts)
}

func appliedRow(seq int, ev event.Event, out ledger.ApplyResult) canonical.Object {
	row := canonical.Object{
		"seq":        canonical.Int(int64(seq)),
		"event_id":   canonical.String(ev.EventID),
		"event_type": canonical.String(string(ev.Type)),
		"symbol":     canonical.String(ev.Symbol),
		"ts_sim":     canonical.Int(ev.TsSim),
		"outcome":    canonical.String(string(out.Outcome)),
		"entry_id":   canonical.String(""),
	}
	if out.Entry != nil {
		row["entry_id"] = canonical.String(out.Entry.EntryID)
	}
	return row
}

func equityRow(seq int, ev event.Event, snap ledger.ValuationSnapshot) canonical.Object {
	obj := snap.Object()
	return canonical.Object{
		"seq":            canonical.Int(int64(seq)),
		"event_id":       canonical.String(ev.EventID),
		"ts_sim":         obj["ts_sim"],
		"cash":           obj["cash"],
		"realized_pnl":   obj["realized_pnl"],
		"unrealized_pnl": obj["unrealized_pnl"],
		"equity":         obj["equity"],
	}
}
