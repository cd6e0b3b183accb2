package validator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/faults"
)

// Check names, in the order they run.
const (
	CheckRequiredFiles  = "required_files"
	CheckManifest       = "manifest"
	CheckFIFOLedger     = "fifo_ledger_present"
	CheckContents       = "content_hashes"
	CheckBundleID       = "bundle_id"
	CheckSums           = "sums"
	CheckLineEndings    = "line_endings"
	CheckEventOrder     = "event_order"
	CheckFloats         = "no_floats"
	CheckMarketDataRefs = "market_data_refs"
	CheckLedgerFiles    = "ledger_files"
)

// Report lists what a validation covered. On failure it holds the checks
// that passed before the first error.
type Report struct {
	Dir             string
	BundleID        string
	RunID           string
	ContractVersion int
	Files           []string
	Checks          []string

	Manifest *contract.Manifest
}

// Object renders the report canonically.
func (r *Report) Object() canonical.Object {
	files := canonical.Array{}
	for _, f := range r.Files {
		files = append(files, canonical.String(f))
	}
	checks := canonical.Array{}
	for _, c := range r.Checks {
		checks = append(checks, canonical.String(c))
	}
	return canonical.Object{
		"bundle_id":        canonical.String(r.BundleID),
		"run_id":           canonical.String(r.RunID),
		"contract_version": canonical.Int(int64(r.ContractVersion)),
		"files":            files,
		"checks":           checks,
	}
}

// Validate re-walks the bundle at dir and returns the first violation as a
// typed error. Content rules are enforced independently of hashes, so a
// bundle with consistent hashes can still fail.
func Validate(dir string) (*Report, error) {
	v := &validation{dir: dir, report: &Report{Dir: dir}}
	err := v.run()
	if err != nil {
		slog.Debug("bundle invalid", "dir", dir, "code", faults.CodeOf(err), "error", err)
		return v.report, err
	}
	slog.Debug("bundle valid", "dir", dir, "bundle_id", v.report.BundleID, "files", len(v.report.Files))
	return v.report, nil
}

type validation struct {
	dir      string
	report   *Report
	manifest *contract.Manifest
	files    []string
	data     map[string][]byte
}

func (v *validation) run() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{CheckRequiredFiles, v.requiredFiles},
		{CheckManifest, v.readManifest},
		{CheckFIFOLedger, v.fifoLedgerPresent},
		{CheckContents, v.contentHashes},
		{CheckBundleID, v.bundleID},
		{CheckSums, v.sums},
		{CheckLineEndings, v.lineEndings},
		{CheckEventOrder, v.eventOrder},
		{CheckFloats, v.floats},
		{CheckMarketDataRefs, v.marketDataRefs},
		{CheckLedgerFiles, v.ledgerFiles},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return err
		}
		v.report.Checks = append(v.report.Checks, step.name)
	}
	return nil
}

// read returns the bytes of a bundle file, cached.
func (v *validation) read(rel string) ([]byte, error) {
	if data, ok := v.data[rel]; ok {
		return data, nil
	}
	data, err := os.ReadFile(filepath.Join(v.dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	v.data[rel] = data
	return data, nil
}

func (v *validation) requiredFiles() error {
	info, err := os.Stat(v.dir)
	if err != nil || !info.IsDir() {
		return faults.Schema(faults.CodeMissingRequiredFile, "bundle directory %s not found", v.dir)
	}

	files, err := contract.ListFiles(v.dir)
	if err != nil {
		return fmt.Errorf("list bundle files: %w", err)
	}
	v.files = files
	v.report.Files = files
	v.data = make(map[string][]byte, len(files))

	for _, rel := range contract.RequiredPaths {
		if !slices.Contains(files, rel) {
			return faults.Schema(faults.CodeMissingRequiredFile, "required file missing").WithPath(rel)
		}
	}
	return nil
}

func (v *validation) readManifest() error {
	m, data, err := contract.ReadManifest(v.dir)
	if err != nil {
		return err
	}
	v.data[contract.PathManifest] = data
	v.manifest = m
	v.report.Manifest = m
	v.report.BundleID = m.BundleID
	v.report.RunID = m.RunID
	v.report.ContractVersion = m.ContractVersion

	if _, ok := m.Entry(contract.PathEvents); !ok {
		return faults.Schema(faults.CodeManifestSchema, "manifest does not list %s", contract.PathEvents).WithPath(contract.PathManifest)
	}
	for _, e := range m.Contents {
		if !contract.InManifest(e.Path) {
			return faults.Schema(faults.CodeManifestSchema, "manifest must not list %s", e.Path).WithPath(contract.PathManifest)
		}
	}
	return nil
}

func (v *validation) fifoLedgerPresent() error {
	if !v.manifest.HasFIFOLedger() {
		return nil
	}
	if _, ok := v.manifest.Entry(contract.PathFIFOSnapshot); !ok || !slices.Contains(v.files, contract.PathFIFOSnapshot) {
		return faults.Schema(faults.CodeFIFOLedgerMissing,
			"contract v2 requires the FIFO ledger snapshot").WithPath(contract.PathFIFOSnapshot)
	}
	return nil
}

func (v *validation) contentHashes() error {
	for _, e := range v.manifest.Contents {
		data, err := v.read(e.Path)
		if errors.Is(err, os.ErrNotExist) {
			return faults.HashMismatch(faults.CodeContentMissing, "listed content file is missing").WithPath(e.Path)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Path, err)
		}
		if int64(len(data)) != e.Bytes {
			return faults.HashMismatch(faults.CodeContentSizeMismatch,
				"size %d, manifest says %d", len(data), e.Bytes).WithPath(e.Path)
		}
		if got := canonical.SHA256Hex(data); got != e.SHA256 {
			return faults.HashMismatch(faults.CodeContentHashMismatch,
				"sha256 %s, manifest says %s", got, e.SHA256).WithPath(e.Path)
		}
	}

	// Every content file on disk must be listed, or the bundle id would not
	// cover it.
	for _, rel := range v.files {
		if !contract.InManifest(rel) {
			continue
		}
		if _, ok := v.manifest.Entry(rel); !ok {
			return faults.Schema(faults.CodeManifestSchema, "content file not listed in manifest").WithPath(rel)
		}
	}
	return nil
}

func (v *validation) bundleID() error {
	want, err := contract.BundleID(v.manifest.ContractVersion, v.manifest.RunID, v.manifest.Contents)
	if err != nil {
		return err
	}
	if want != v.manifest.BundleID {
		return faults.HashMismatch(faults.CodeBundleIDMismatch,
			"bundle_id %s, contents derive %s", v.manifest.BundleID, want).WithPath(contract.PathManifest)
	}
	return nil
}

func (v *validation) sums() error {
	data, err := v.read(contract.PathSums)
	if err != nil {
		return fmt.Errorf("read sums: %w", err)
	}
	lines, err := contract.ParseSums(data)
	if err != nil {
		if fe, ok := faults.As(err); ok && fe.Path == "" {
			return fe.WithPath(contract.PathSums)
		}
		return err
	}

	listed := make([]string, len(lines))
	for i, l := range lines {
		listed[i] = l.Path
	}
	var want []string
	for _, rel := range v.files {
		if rel != contract.PathSums {
			want = append(want, rel)
		}
	}
	if !slices.Equal(listed, want) {
		return faults.Schema(faults.CodeSumsCoverage,
			"sums cover [%s], bundle holds [%s]", strings.Join(listed, " "), strings.Join(want, " ")).WithPath(contract.PathSums)
	}

	for _, l := range lines {
		data, err := v.read(l.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", l.Path, err)
		}
		if got := canonical.SHA256Hex(data); got != l.SHA256 {
			return faults.HashMismatch(faults.CodeSumsHashMismatch,
				"sha256 %s, sums file says %s", got, l.SHA256).WithPath(l.Path)
		}
	}
	return nil
}

func (v *validation) lineEndings() error {
	for _, rel := range v.files {
		if contract.MediaType(rel) == contract.MediaBinary {
			continue
		}
		data, err := v.read(rel)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		if err := canonical.CheckLF(data); err != nil {
			return withPath(err, rel)
		}
	}
	return nil
}

func (v *validation) eventOrder() error {
	data, err := v.read(contract.PathEvents)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	if err := canonical.CheckLines(data); err != nil {
		return withPath(err, contract.PathEvents)
	}
	lines, err := canonical.ParseLines(data)
	if err != nil {
		return withPath(err, contract.PathEvents)
	}

	var prevTime string
	for i, line := range lines {
		seq, ok := line.IntAt("seq")
		if !ok {
			return faults.Schema(faults.CodeMissingField, "event line %d has no integer seq", i+1).WithPath(contract.PathEvents)
		}
		at, ok := line.Str("event_time_utc")
		if !ok {
			return faults.Schema(faults.CodeMissingField, "event line %d has no event_time_utc", i+1).WithPath(contract.PathEvents)
		}
		if seq != int64(i) {
			return faults.Schema(faults.CodeSeqNotContiguous, "line %d has seq %d, want %d", i+1, seq, i).WithPath(contract.PathEvents)
		}
		// Fixed-width UTC timestamps order lexically.
		if i > 0 && at < prevTime {
			return faults.Schema(faults.CodeEventsNotSorted,
				"line %d event_time_utc %s precedes %s", i+1, at, prevTime).WithPath(contract.PathEvents)
		}
		prevTime = at
	}

	if len(lines) != v.manifest.EventCount {
		return faults.Schema(faults.CodeManifestSchema,
			"manifest event_count %d, events file holds %d", v.manifest.EventCount, len(lines)).WithPath(contract.PathManifest)
	}
	return nil
}

func (v *validation) floats() error {
	for _, rel := range v.files {
		if !contract.IsJSON(rel) {
			continue
		}
		data, err := v.read(rel)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		if err := canonical.ScanFloats(data); err != nil {
			return withPath(err, rel)
		}
	}
	return nil
}

func (v *validation) marketDataRefs() error {
	if !slices.Contains(v.files, contract.PathMarketDataRefs) {
		return nil
	}
	data, err := v.read(contract.PathMarketDataRefs)
	if err != nil {
		return fmt.Errorf("read market data refs: %w", err)
	}
	if err := canonical.CheckDocument(data); err != nil {
		if faults.IsDeterminism(err) {
			return faults.Determinism(faults.CodeDataRefsNotCanonical,
				"market data refs are not canonical JSON: %v", err).WithPath(contract.PathMarketDataRefs)
		}
		return withPath(err, contract.PathMarketDataRefs)
	}
	obj, err := canonical.ParseObject(data)
	if err != nil {
		return withPath(err, contract.PathMarketDataRefs)
	}
	_, err = contract.CheckMarketDataRefs(obj)
	return err
}

func (v *validation) ledgerFiles() error {
	if !v.manifest.HasFIFOLedger() {
		return nil
	}
	data, err := v.read(contract.PathFIFOSnapshot)
	if err != nil {
		return fmt.Errorf("read FIFO snapshot: %w", err)
	}
	if err := canonical.CheckDocument(data); err != nil {
		return withPath(err, contract.PathFIFOSnapshot)
	}

	if !slices.Contains(v.files, contract.PathFIFOEntries) {
		return nil
	}
	data, err = v.read(contract.PathFIFOEntries)
	if err != nil {
		return fmt.Errorf("read FIFO entries: %w", err)
	}
	if err := canonical.CheckLines(data); err != nil {
		return withPath(err, contract.PathFIFOEntries)
	}
	return nil
}

// withPath attaches the bundle file to a taxonomy error that has none.
func withPath(err error, rel string) error {
	if fe, ok := faults.As(err); ok {
		if fe.Path == "" || strings.HasPrefix(fe.Path, "$") {
			if fe.Path != "" {
				fe = fe.WithDetail("json_path", fe.Path)
			}
			return fe.WithPath(rel)
		}
		return fe
	}
	return fmt.Errorf("%s: %w", rel, err)
}
