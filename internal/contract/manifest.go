package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/quant"
)

// Canonicalization rule identifiers recorded in every manifest.
const (
	CanonJSON    = "RFC8785_SORTED_KEYS_NO_WS"
	CanonJSONL   = "ONE_CANONICAL_OBJECT_PER_LINE"
	CanonNewline = "LF"
	CanonNumbers = "DECIMAL_STRINGS_NO_FLOATS"
)

// OrderingRule is the event ordering invariant of every bundle.
const OrderingRule = "EVENT_TIME_UTC_THEN_SEQ"

// ToolName identifies the producer in manifests.
const ToolName = "ledgerpack"

// Entry describes one content file.
type Entry struct {
	Path      string
	SHA256    string
	Bytes     int64
	MediaType string
}

// Tool identifies the producer of a bundle.
type Tool struct {
	Name    string
	Version string
}

// Manifest is the typed form of manifest.json.
type Manifest struct {
	ContractVersion int
	BundleID        string
	RunID           string
	CreatedAtUTC    string
	Contents        []Entry // sorted by path
	Policy          quant.Policy
	LedgerMethod    string
	QuoteCurrency   string
	EventCount      int
	Tool            Tool
}

// HasFIFOLedger is the v2 invariant flag.
func (m *Manifest) HasFIFOLedger() bool { return m.ContractVersion >= V2 }

// Entry returns the content entry for rel.
func (m *Manifest) Entry(rel string) (Entry, bool) {
	for _, e := range m.Contents {
		if e.Path == rel {
			return e, true
		}
	}
	return Entry{}, false
}

// Object renders the manifest canonically.
func (m *Manifest) Object() canonical.Object {
	contents := canonical.Array{}
	for _, e := range m.Contents {
		contents = append(contents, canonical.Object{
			"path":       canonical.String(e.Path),
			"sha256":     canonical.String(e.SHA256),
			"bytes":      canonical.Int(e.Bytes),
			"media_type": canonical.String(e.MediaType),
		})
	}

	invariants := canonical.Object{"ordering": canonical.String(OrderingRule)}
	if m.HasFIFOLedger() {
		invariants["has_fifo_ledger"] = canonical.Bool(true)
	}

	return canonical.Object{
		"contract_version": canonical.Int(int64(m.ContractVersion)),
		"bundle_id":        canonical.String(m.BundleID),
		"run_id":           canonical.String(m.RunID),
		"created_at_utc":   canonical.String(m.CreatedAtUTC),
		"canonicalization": canonical.Object{
			"json":    canonical.String(CanonJSON),
			"jsonl":   canonical.String(CanonJSONL),
			"newline": canonical.String(CanonNewline),
			"numbers": canonical.String(CanonNumbers),
		},
		"invariants":     invariants,
		"contents":       contents,
		"policy":         m.Policy.Object(),
		"ledger_method":  canonical.String(m.LedgerMethod),
		"quote_currency": canonical.String(m.QuoteCurrency),
		"event_count":    canonical.Int(int64(m.EventCount)),
		"tool": canonical.Object{
			"name":    canonical.String(m.Tool.Name),
			"version": canonical.String(m.Tool.Version),
		},
	}
}

// Bytes returns the canonical manifest document.
func (m *Manifest) Bytes() ([]byte, error) {
	return canonical.MarshalDocument(m.Object())
}

// ParseManifest reads a manifest object that already passed CheckManifest.
func ParseManifest(obj canonical.Object) (*Manifest, error) {
	m := &Manifest{}

	version, _ := obj.IntAt("contract_version")
	m.ContractVersion = int(version)
	m.BundleID, _ = obj.Str("bundle_id")
	m.RunID, _ = obj.Str("run_id")
	m.CreatedAtUTC, _ = obj.Str("created_at_utc")
	m.LedgerMethod, _ = obj.Str("ledger_method")
	m.QuoteCurrency, _ = obj.Str("quote_currency")
	count, _ := obj.IntAt("event_count")
	m.EventCount = int(count)

	if tool, ok := obj.ObjectAt("tool"); ok {
		m.Tool.Name, _ = tool.Str("name")
		m.Tool.Version, _ = tool.Str("version")
	}

	pol, ok := obj.ObjectAt("policy")
	if !ok {
		return nil, faults.Schema(faults.CodeManifestSchema, "manifest policy missing").WithPath(PathManifest)
	}
	qty, _ := pol.Str("quantity_quantum")
	price, _ := pol.Str("price_quantum")
	money, _ := pol.Str("money_quantum")
	rounding, _ := pol.Str("rounding")
	policy, err := quant.NewPolicy(qty, price, money, quant.Rounding(rounding))
	if err != nil {
		return nil, fmt.Errorf("manifest policy: %w", err)
	}
	m.Policy = policy

	contents, _ := obj.ArrayAt("contents")
	for i, v := range contents {
		eo, ok := v.(canonical.Object)
		if !ok {
			return nil, faults.Schema(faults.CodeManifestSchema, "contents[%d] is not an object", i).WithPath(PathManifest)
		}
		var e Entry
		e.Path, _ = eo.Str("path")
		e.SHA256, _ = eo.Str("sha256")
		e.Bytes, _ = eo.IntAt("bytes")
		e.MediaType, _ = eo.Str("media_type")
		if !SafeRelPath(e.Path) {
			return nil, faults.Schema(faults.CodeManifestSchema, "unsafe content path %q", e.Path).WithPath(PathManifest)
		}
		if n := len(m.Contents); n > 0 && m.Contents[n-1].Path >= e.Path {
			return nil, faults.Schema(faults.CodeManifestSchema,
				"contents not strictly sorted by path at %q", e.Path).WithPath(PathManifest)
		}
		m.Contents = append(m.Contents, e)
	}
	return m, nil
}

// ReadManifest loads, canonical-checks, schema-checks and parses the
// manifest of the bundle at dir.
func ReadManifest(dir string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, PathManifest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, faults.Schema(faults.CodeMissingRequiredFile, "required file missing").WithPath(PathManifest)
		}
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	if err := canonical.CheckDocument(data); err != nil {
		if fe, ok := faults.As(err); ok && fe.Kind == faults.KindDeterminism {
			return nil, nil, faults.Determinism(faults.CodeManifestNotCanonical, "manifest is not canonical JSON: %s", fe.Message).WithPath(PathManifest)
		}
		return nil, nil, err
	}

	obj, err := canonical.ParseObject(data)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckManifest(obj); err != nil {
		return nil, nil, err
	}
	m, err := ParseManifest(obj)
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}

// ContentEntries lists the manifest entries of the bundle at dir: every file
// except the manifest, the sums and the late reports.
func ContentEntries(dir string) ([]Entry, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list bundle files: %w", err)
	}
	var entries []Entry
	for _, rel := range files {
		if !InManifest(rel) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		entries = append(entries, Entry{
			Path:      rel,
			SHA256:    canonical.SHA256Hex(data),
			Bytes:     int64(len(data)),
			MediaType: MediaType(rel),
		})
	}
	return entries, nil
}

// BundleID derives the bundle id: the SHA-256 of the canonical JSON of
// {contract_version, run_id, files: [[path, sha256], ...]} with files
// sorted by path.
func BundleID(version int, runID string, entries []Entry) (string, error) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })

	files := canonical.Array{}
	for _, e := range sorted {
		files = append(files, canonical.Array{canonical.String(e.Path), canonical.String(e.SHA256)})
	}
	return canonical.HashObject(canonical.Object{
		"contract_version": canonical.Int(int64(version)),
		"run_id":           canonical.String(runID),
		"files":            files,
	})
}

// TimeLayout is the UTC timestamp layout used in bundles.
const TimeLayout = "2006-01-02T15:04:05Z"

// EventTimeUTC renders the synthetic event time for tsSim: the Unix epoch
// plus tsSim seconds. It never consults the real clock.
func EventTimeUTC(tsSim int64) string {
	return time.Unix(tsSim, 0).UTC().Format(TimeLayout)
}

// ParseCreatedAt validates a created_at_utc override and normalizes it.
func ParseCreatedAt(s string) (string, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", faults.Schema(faults.CodeInvalidValue, "created_at_utc must be RFC3339: %v", err)
	}
	return t.UTC().Format(TimeLayout), nil
}
