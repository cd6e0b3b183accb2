package contract

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
)

//go:embed schema.cue
var schemaCUE string

// Definition paths inside schema.cue.
const (
	defManifestV1     = "#ManifestV1"
	defManifestV2     = "#ManifestV2"
	defMarketDataRefs = "#MarketDataRefs"
)

// MarketDataRefsVersion is the schema_version of market_data_refs.json.
const MarketDataRefsVersion = "MARKET_DATA_REFS_V1"

// A cue.Context is not safe for concurrent use, so one compiled schema is
// shared behind a mutex.
var (
	schemaMu   sync.Mutex
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaRoot cue.Value
	schemaErr  error
)

func loadSchema() error {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaRoot = schemaCtx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		if err := schemaRoot.Err(); err != nil {
			schemaErr = fmt.Errorf("compile embedded schema: %w", err)
		}
	})
	return schemaErr
}

// checkAgainst unifies the canonical JSON of obj with a closed definition
// and requires a concrete, error-free result.
func checkAgainst(def string, obj canonical.Object, code, file string) error {
	data, err := canonical.Marshal(obj)
	if err != nil {
		return err
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	if err := loadSchema(); err != nil {
		return err
	}

	schema := schemaRoot.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema definition %s not found", def)
	}

	// JSON is valid CUE, so the document compiles directly.
	doc := schemaCtx.CompileBytes(data, cue.Filename(file))
	if err := doc.Err(); err != nil {
		return faults.Schema(code, "%s is not valid JSON: %s", file, formatCUEError(err)).WithPath(file)
	}

	unified := schema.Unify(doc)
	// Final reports required fields the document left out.
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return faults.Schema(code, "%s violates %s: %s", file, def, formatCUEError(err)).WithPath(file)
	}
	return nil
}

// formatCUEError flattens a CUE error list into one line, sorted for
// stable output.
func formatCUEError(err error) string {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msgs = append(msgs, e.Error())
	}
	if len(msgs) == 0 {
		return err.Error()
	}
	slices.Sort(msgs)
	return strings.Join(slices.Compact(msgs), "; ")
}

// CheckManifest validates a manifest object against the strict schema of
// its declared contract_version.
func CheckManifest(obj canonical.Object) error {
	version, ok := obj.IntAt("contract_version")
	if !ok {
		return faults.Schema(faults.CodeManifestSchema, "contract_version missing or not an integer").WithPath(PathManifest)
	}
	switch version {
	case V1:
		return checkAgainst(defManifestV1, obj, faults.CodeManifestSchema, PathManifest)
	case V2:
		return checkAgainst(defManifestV2, obj, faults.CodeManifestSchema, PathManifest)
	default:
		return faults.Schema(faults.CodeManifestSchema, "unsupported contract_version %d", version).WithPath(PathManifest)
	}
}

// MarketDataRef declares one external market-data dependency.
type MarketDataRef struct {
	RefID    string
	Provider string
	Dataset  string
	Symbol   string
	Start    string
	End      string
	Format   string
	Required bool
	SHA256   string // optional hash hint
}

// Object renders the ref canonically.
func (r MarketDataRef) Object() canonical.Object {
	obj := canonical.Object{
		"ref_id":   canonical.String(r.RefID),
		"provider": canonical.String(r.Provider),
		"dataset":  canonical.String(r.Dataset),
		"symbol":   canonical.String(r.Symbol),
		"start":    canonical.String(r.Start),
		"end":      canonical.String(r.End),
		"format":   canonical.String(r.Format),
		"required": canonical.Bool(r.Required),
	}
	if r.SHA256 != "" {
		obj["sha256"] = canonical.String(r.SHA256)
	}
	return obj
}

// CheckMarketDataRefs validates a market_data_refs document: the strict
// schema plus unique ref ids sorted ascending.
func CheckMarketDataRefs(obj canonical.Object) ([]MarketDataRef, error) {
	if err := checkAgainst(defMarketDataRefs, obj, faults.CodeDataRefsSchema, PathMarketDataRefs); err != nil {
		return nil, err
	}

	arr, _ := obj.ArrayAt("refs")
	refs := make([]MarketDataRef, 0, len(arr))
	for _, v := range arr {
		ro := v.(canonical.Object)
		var r MarketDataRef
		r.RefID, _ = ro.Str("ref_id")
		r.Provider, _ = ro.Str("provider")
		r.Dataset, _ = ro.Str("dataset")
		r.Symbol, _ = ro.Str("symbol")
		r.Start, _ = ro.Str("start")
		r.End, _ = ro.Str("end")
		r.Format, _ = ro.Str("format")
		r.Required, _ = ro.BoolAt("required")
		r.SHA256, _ = ro.Str("sha256")

		if n := len(refs); n > 0 && refs[n-1].RefID >= r.RefID {
			return nil, faults.Schema(faults.CodeDataRefsSchema,
				"refs must be sorted by unique ref_id, %q follows %q", r.RefID, refs[n-1].RefID).WithPath(PathMarketDataRefs)
		}
		refs = append(refs, r)
	}
	return refs, nil
}

// ReadMarketDataRefs loads and checks the refs document of the bundle at
// dir. ok is false when the bundle carries none.
func ReadMarketDataRefs(dir string) (refs []MarketDataRef, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(PathMarketDataRefs)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read market data refs: %w", err)
	}
	obj, err := canonical.ParseObject(data)
	if err != nil {
		return nil, false, err
	}
	refs, err = CheckMarketDataRefs(obj)
	if err != nil {
		return nil, false, err
	}
	return refs, true, nil
}

// MarketDataRefsObject renders refs as a market_data_refs document, sorted
// by ref id.
func MarketDataRefsObject(refs []MarketDataRef) canonical.Object {
	sorted := slices.Clone(refs)
	slices.SortFunc(sorted, func(a, b MarketDataRef) int { return strings.Compare(a.RefID, b.RefID) })

	arr := canonical.Array{}
	for _, r := range sorted {
		arr = append(arr, r.Object())
	}
	return canonical.Object{
		"schema_version": canonical.String(MarketDataRefsVersion),
		"refs":           arr,
	}
}
