package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/event"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/metrics"
)

// Source supplies the raw events a bundle is built from.
type Source interface {
	Load(ctx context.Context) ([]canonical.Object, error)
}

// FileSource reads an upstream JSONL event log.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(ctx context.Context) ([]canonical.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return event.ReadJSONL(s.Path)
}

// StaticSource serves events already in memory.
type StaticSource []canonical.Object

// Load implements Source.
func (s StaticSource) Load(ctx context.Context) ([]canonical.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]canonical.Object, len(s))
	for i, obj := range s {
		out[i] = obj.Clone()
	}
	return out, nil
}

// Options configures one build.
type Options struct {
	// OutDir is the bundle root. It must be absent or empty unless Force.
	OutDir string
	Force  bool

	// RunID selects the run. Empty means the input must hold exactly one.
	RunID string

	// ContractVersion is 1 or 2. Zero means 1. Version 2 replays with FIFO
	// and writes the FIFO ledger files.
	ContractVersion int

	// Ledger configures the replay engine for expected outputs.
	Ledger ledger.Config

	// IncludeOutputs writes expected fills and positions.
	IncludeOutputs bool

	// CreatedAtUTC overrides created_at_utc (RFC3339). Empty derives it from
	// the first event's synthetic time.
	CreatedAtUTC string

	// Optional documents copied into the bundle.
	ConfigSnapshot canonical.Object
	Git            canonical.Object
	Env            canonical.Object
	MarketDataRefs canonical.Object

	ToolVersion string
	Metrics     *metrics.Metrics
}

// Result describes a written bundle.
type Result struct {
	Dir      string
	Manifest *contract.Manifest
	Events   int
}

// Build writes a replay bundle for one run. Every step derives from the
// input events and options; the real clock is never consulted.
func Build(ctx context.Context, src Source, opts Options) (*Result, error) {
	version := opts.ContractVersion
	if version == 0 {
		version = contract.V1
	}
	if version != contract.V1 && version != contract.V2 {
		return nil, faults.Schema(faults.CodeInvalidValue, "unsupported contract version %d", version)
	}
	if opts.OutDir == "" {
		return nil, faults.Schema(faults.CodeInvalidValue, "output directory is required")
	}

	cfg := opts.Ledger
	if version == contract.V2 {
		cfg.Method = ledger.MethodFIFO
	}
	// Construct early so config errors surface before any file is written.
	settings, err := ledger.New(cfg)
	if err != nil {
		return nil, err
	}

	var createdAt string
	if opts.CreatedAtUTC != "" {
		ts, err := contract.ParseCreatedAt(opts.CreatedAtUTC)
		if err != nil {
			return nil, err
		}
		createdAt = ts
	}

	var refsDoc canonical.Object
	if opts.MarketDataRefs != nil {
		refs, err := contract.CheckMarketDataRefs(opts.MarketDataRefs)
		if err != nil {
			return nil, err
		}
		refsDoc = contract.MarketDataRefsObject(refs)
	}

	raws, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	all, err := event.Prepare(raws)
	if err != nil {
		return nil, err
	}
	runID, events, err := event.SelectRun(all, opts.RunID)
	if err != nil {
		return nil, err
	}
	if err := checkMonotonic(events); err != nil {
		return nil, err
	}
	if createdAt == "" {
		createdAt = contract.EventTimeUTC(events[0].TsSim)
	}

	slog.Info("building bundle",
		"run_id", runID,
		"events", len(events),
		"contract_version", version,
		"out", opts.OutDir,
	)

	if err := prepareOutDir(opts.OutDir, opts.Force); err != nil {
		return nil, err
	}
	w := &bundleWriter{dir: opts.OutDir}

	w.lines(contract.PathEvents, BundleEventObjects(events))
	if opts.ConfigSnapshot != nil {
		w.document(contract.PathConfigSnapshot, opts.ConfigSnapshot)
	}
	if opts.Git != nil {
		w.document(contract.PathGit, opts.Git)
	}
	if opts.Env != nil {
		w.document(contract.PathEnv, opts.Env)
	}
	if refsDoc != nil {
		w.document(contract.PathMarketDataRefs, refsDoc)
	}
	if w.err != nil {
		return nil, w.err
	}

	if opts.IncludeOutputs || version == contract.V2 {
		engine, err := ledger.Replay(cfg, events, observer(opts.Metrics))
		if err != nil {
			return nil, err
		}
		if opts.IncludeOutputs {
			w.lines(contract.PathExpectedFills, engine.FillObjects())
			w.document(contract.PathExpectedPosition, engine.PositionsDocument())
		}
		if version == contract.V2 {
			snapshot, entries, err := engine.ExportFIFO()
			if err != nil {
				return nil, err
			}
			w.document(contract.PathFIFOSnapshot, snapshot)
			w.lines(contract.PathFIFOEntries, entries)
		}
		if w.err != nil {
			return nil, w.err
		}
	}

	entries, err := contract.ContentEntries(opts.OutDir)
	if err != nil {
		return nil, err
	}
	bundleID, err := contract.BundleID(version, runID, entries)
	if err != nil {
		return nil, err
	}

	m := &contract.Manifest{
		ContractVersion: version,
		BundleID:        bundleID,
		RunID:           runID,
		CreatedAtUTC:    createdAt,
		Contents:        entries,
		Policy:          settings.Policy(),
		LedgerMethod:    string(settings.Config().Method),
		QuoteCurrency:   settings.Config().QuoteCurrency,
		EventCount:      len(events),
		Tool:            contract.Tool{Name: contract.ToolName, Version: toolVersion(opts.ToolVersion)},
	}
	if err := contract.CheckManifest(m.Object()); err != nil {
		return nil, fmt.Errorf("built manifest failed its own schema: %w", err)
	}
	data, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	if err := contract.WriteFile(opts.OutDir, contract.PathManifest, data); err != nil {
		return nil, err
	}
	if _, err := contract.WriteSums(opts.OutDir); err != nil {
		return nil, err
	}

	opts.Metrics.BundleBuilt(version, len(events))
	slog.Info("bundle built", "bundle_id", bundleID, "files", len(entries))

	return &Result{Dir: opts.OutDir, Manifest: m, Events: len(events)}, nil
}

func toolVersion(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}

// checkMonotonic rejects runs whose canonical order is not also ts_sim
// order, which happens when sessions interleave. Such a bundle could never
// satisfy the event_time_utc ordering rule.
func checkMonotonic(events []event.Event) error {
	for i := 1; i < len(events); i++ {
		if events[i].TsSim < events[i-1].TsSim {
			return faults.LedgerInvariant(faults.CodeNonMonotonicTs,
				"ts_sim %d of %s precedes %d of %s in canonical order",
				events[i].TsSim, events[i].EventID, events[i-1].TsSim, events[i-1].EventID).
				WithPath(events[i].EventID)
		}
	}
	return nil
}

// BundleEventObjects renders events as bundle lines: the normalized event
// plus seq from 0 and the synthetic event_time_utc.
func BundleEventObjects(events []event.Event) []canonical.Object {
	out := make([]canonical.Object, len(events))
	for i := range events {
		obj := events[i].Object()
		obj["seq"] = canonical.Int(int64(i))
		obj["event_time_utc"] = canonical.String(contract.EventTimeUTC(events[i].TsSim))
		out[i] = obj
	}
	return out
}

// observer feeds replay outcomes into metrics.
func observer(m *metrics.Metrics) func(event.Event, ledger.ApplyResult) {
	return func(_ event.Event, res ledger.ApplyResult) {
		m.Event(string(res.Outcome))
		if res.Entry != nil {
			m.JournalEntry(string(res.Entry.Kind))
		}
	}
}

// prepareOutDir makes dir an empty directory.
func prepareOutDir(dir string, force bool) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("inspect output directory: %w", err)
	case len(entries) > 0 && !force:
		return faults.Schema(faults.CodeInvalidValue,
			"output directory %s is not empty, pass --force to replace it", dir).WithPath(dir)
	case len(entries) > 0:
		slog.Warn("clearing output directory", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear output directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}

// bundleWriter writes canonical files, keeping the first error.
type bundleWriter struct {
	dir string
	err error
}

func (w *bundleWriter) write(rel string, data []byte, err error) {
	if w.err != nil {
		return
	}
	if err != nil {
		if fe, ok := faults.As(err); ok {
			w.err = fe.WithDetail("file", rel)
			return
		}
		w.err = fmt.Errorf("encode %s: %w", rel, err)
		return
	}
	w.err = contract.WriteFile(w.dir, rel, data)
}

func (w *bundleWriter) document(rel string, obj canonical.Object) {
	data, err := canonical.MarshalDocument(obj)
	w.write(rel, data, err)
}

func (w *bundleWriter) lines(rel string, objs []canonical.Object) {
	data, err := canonical.MarshalLines(objs)
	w.write(rel, data, err)
}
