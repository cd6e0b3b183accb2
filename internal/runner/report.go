package runner

import (
	"slices"
	"strconv"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/datarefs"
	"github.com/roach88/ledgerpack/internal/faults"
)

// Exit codes of the replay surface.
const (
	ExitPass           = 0
	ExitContract       = 2
	ExitHashMismatch   = 3
	ExitReplayMismatch = 4
	ExitInternal       = 5
	ExitMissingDataRef = 6
)

// ExitCodeFor maps an error to the fixed exit-code taxonomy.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitPass
	}
	switch faults.KindOf(err) {
	case faults.KindSchema, faults.KindDeterminism:
		return ExitContract
	case faults.KindHashMismatch:
		return ExitHashMismatch
	case faults.KindReplayMismatch, faults.KindLedgerInvariant:
		return ExitReplayMismatch
	case faults.KindMissingDataRef, faults.KindDataRefHash:
		return ExitMissingDataRef
	default:
		return ExitInternal
	}
}

// Diff is one field that differs between expected and recomputed output.
type Diff struct {
	Kind     string // "fill" or "position"
	Key      string // event id, symbol, or position index
	Field    string
	Expected string
	Actual   string
}

// CompareReport is the structured outcome of a replay.
type CompareReport struct {
	BundleID    string
	RunID       string
	Status      string
	ExitCode    int
	ReasonCodes []string // sorted, unique
	EventCount  int
	FillCount   int
	Compared    bool
	Diffs       []Diff
	Resolution  *datarefs.Report
}

func (r *CompareReport) addCode(code string) {
	r.ReasonCodes = faults.SortedCodes(append(r.ReasonCodes, code))
}

// finish sets status fields from the terminal error. Safe to call twice.
func (r *CompareReport) finish(err error) {
	if err != nil {
		r.addCode(faults.CodeOf(err))
	}
	r.ExitCode = ExitCodeFor(err)
	r.Status = StatusPass
	if r.ExitCode != ExitPass {
		r.Status = StatusFail
	}
}

// Passed reports whether the replay matched.
func (r *CompareReport) Passed() bool { return r.Status == StatusPass }

// Object renders the report canonically.
func (r *CompareReport) Object() canonical.Object {
	codes := canonical.Array{}
	for _, c := range r.ReasonCodes {
		codes = append(codes, canonical.String(c))
	}
	diffs := canonical.Array{}
	for _, d := range r.Diffs {
		diffs = append(diffs, canonical.Object{
			"kind":     canonical.String(d.Kind),
			"key":      canonical.String(d.Key),
			"field":    canonical.String(d.Field),
			"expected": canonical.String(d.Expected),
			"actual":   canonical.String(d.Actual),
		})
	}

	obj := canonical.Object{
		"bundle_id":    canonical.String(r.BundleID),
		"run_id":       canonical.String(r.RunID),
		"status":       canonical.String(r.Status),
		"exit_code":    canonical.Int(int64(r.ExitCode)),
		"reason_codes": codes,
		"event_count":  canonical.Int(int64(r.EventCount)),
		"fill_count":   canonical.Int(int64(r.FillCount)),
		"compared":     canonical.Bool(r.Compared),
		"diffs":        diffs,
	}
	if r.Resolution != nil {
		obj["resolution"] = canonical.Object{
			"mode":          canonical.String(string(r.Resolution.Mode)),
			"resolved":      canonical.Int(int64(r.Resolution.Resolved)),
			"missing":       canonical.Int(int64(r.Resolution.Missing)),
			"hash_mismatch": canonical.Int(int64(r.Resolution.Mismatch)),
		}
	}
	return obj
}

// absent marks a field or record present on one side only.
const absent = "<absent>"

// DiffFills compares fill records by position in the stream.
func DiffFills(expected, actual []canonical.Object) []Diff {
	var diffs []Diff
	if len(expected) != len(actual) {
		diffs = append(diffs, Diff{
			Kind:     "fill",
			Key:      "*",
			Field:    "count",
			Expected: strconv.Itoa(len(expected)),
			Actual:   strconv.Itoa(len(actual)),
		})
	}
	for i := range max(len(expected), len(actual)) {
		var exp, act canonical.Object
		if i < len(expected) {
			exp = expected[i]
		}
		if i < len(actual) {
			act = actual[i]
		}
		key := fillKey(exp, act, i)
		diffs = append(diffs, diffObjects("fill", key, exp, act)...)
	}
	return diffs
}

func fillKey(exp, act canonical.Object, i int) string {
	if id, ok := exp.Str("event_id"); ok {
		return id
	}
	if id, ok := act.Str("event_id"); ok {
		return id
	}
	return "#" + strconv.Itoa(i)
}

// DiffPositions compares two positions documents: header fields, then
// positions matched by symbol.
func DiffPositions(expected, actual canonical.Object) []Diff {
	header := func(obj canonical.Object) canonical.Object {
		out := obj.Clone()
		delete(out, "positions")
		return out
	}
	diffs := diffObjects("position", "*", header(expected), header(actual))

	bySymbol := func(obj canonical.Object) map[string]canonical.Object {
		out := map[string]canonical.Object{}
		arr, _ := obj.ArrayAt("positions")
		for _, v := range arr {
			if p, ok := v.(canonical.Object); ok {
				sym, _ := p.Str("symbol")
				out[sym] = p
			}
		}
		return out
	}
	exp, act := bySymbol(expected), bySymbol(actual)

	symbols := make([]string, 0, len(exp)+len(act))
	for s := range exp {
		symbols = append(symbols, s)
	}
	for s := range act {
		if _, ok := exp[s]; !ok {
			symbols = append(symbols, s)
		}
	}
	slices.Sort(symbols)

	for _, sym := range symbols {
		diffs = append(diffs, diffObjects("position", sym, exp[sym], act[sym])...)
	}
	return diffs
}

// diffObjects compares two flat records field by field, in key order. A nil
// side reports every field of the other as absent.
func diffObjects(kind, key string, exp, act canonical.Object) []Diff {
	keys := map[string]bool{}
	for k := range exp {
		keys[k] = true
	}
	for k := range act {
		keys[k] = true
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	slices.Sort(names)

	var diffs []Diff
	for _, name := range names {
		e, a := render(exp, name), render(act, name)
		if e != a {
			diffs = append(diffs, Diff{Kind: kind, Key: key, Field: name, Expected: e, Actual: a})
		}
	}
	return diffs
}

func render(obj canonical.Object, key string) string {
	v, ok := obj[key]
	if !ok {
		return absent
	}
	if s, ok := v.(canonical.String); ok {
		return string(s)
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return "<" + canonical.TypeName(v) + ">"
	}
	return string(data)
}
