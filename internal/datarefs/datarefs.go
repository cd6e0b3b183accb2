// Package datarefs resolves a bundle's external market-data references
// against a local content-addressed cache.
//
// Lookups use deterministic candidate names only. A ref with a sha256 hint
// is looked up as sha256/<hex>.<ext> first, then every ref as
// <provider>/<dataset>/<symbol>_<start>_<end>.<ext>.
package datarefs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/metrics"
)

// Mode selects how unresolved refs are treated.
type Mode string

const (
	// BestEffort records problems in the report and never fails.
	BestEffort Mode = "best-effort"

	// Strict fails on a missing required ref or any hash-hint mismatch.
	Strict Mode = "strict"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case BestEffort, Strict:
		return Mode(s), nil
	default:
		return "", faults.Schema(faults.CodeInvalidValue, "unknown resolution mode %q (want %s or %s)", s, BestEffort, Strict)
	}
}

// Status of one ref after resolution.
type Status string

const (
	StatusResolved     Status = "resolved"
	StatusMissing      Status = "missing"
	StatusHashMismatch Status = "hash_mismatch"
)

// Resolution is the outcome for one ref.
type Resolution struct {
	RefID    string
	Required bool
	Status   Status
	Path     string // cache-relative, empty when missing
	SHA256   string // of the resolved file
	Expected string // the hint, if any
}

// Report aggregates a resolution run. It records cache-relative paths only,
// so it is stable across machines.
type Report struct {
	Mode     Mode
	Resolved int
	Missing  int
	Mismatch int
	Refs     []Resolution
}

// Object renders the report canonically.
func (r *Report) Object() canonical.Object {
	refs := canonical.Array{}
	for _, res := range r.Refs {
		obj := canonical.Object{
			"ref_id":   canonical.String(res.RefID),
			"required": canonical.Bool(res.Required),
			"status":   canonical.String(string(res.Status)),
		}
		if res.Path != "" {
			obj["path"] = canonical.String(res.Path)
		}
		if res.SHA256 != "" {
			obj["sha256"] = canonical.String(res.SHA256)
		}
		if res.Expected != "" {
			obj["expected_sha256"] = canonical.String(res.Expected)
		}
		refs = append(refs, obj)
	}
	return canonical.Object{
		"mode": canonical.String(string(r.Mode)),
		"counts": canonical.Object{
			"resolved":      canonical.Int(int64(r.Resolved)),
			"missing":       canonical.Int(int64(r.Missing)),
			"hash_mismatch": canonical.Int(int64(r.Mismatch)),
		},
		"refs": refs,
	}
}

// CandidatePaths returns the cache-relative names tried for ref, in order.
func CandidatePaths(ref contract.MarketDataRef) []string {
	var out []string
	if ref.SHA256 != "" {
		out = append(out, path.Join("sha256", ref.SHA256+"."+ref.Format))
	}
	name := fmt.Sprintf("%s_%s_%s.%s", ref.Symbol, ref.Start, ref.End, ref.Format)
	return append(out, path.Join(ref.Provider, ref.Dataset, name))
}

// Resolve looks up every ref under cacheDir. The report is always returned;
// the error is non-nil only in Strict mode.
func Resolve(refs []contract.MarketDataRef, cacheDir string, mode Mode, m *metrics.Metrics) (*Report, error) {
	if mode == "" {
		mode = BestEffort
	}
	report := &Report{Mode: mode}

	var firstErr error
	for _, ref := range refs {
		res, err := resolveOne(ref, cacheDir)
		if err != nil {
			return report, err
		}
		report.Refs = append(report.Refs, res)
		m.DataRef(string(res.Status))

		switch res.Status {
		case StatusResolved:
			report.Resolved++
		case StatusMissing:
			report.Missing++
			if res.Required && firstErr == nil {
				firstErr = faults.MissingDataRef("required market data ref %s not found in cache", ref.RefID).
					WithPath(ref.RefID)
			}
		case StatusHashMismatch:
			report.Mismatch++
			if firstErr == nil {
				firstErr = faults.DataRefHash("market data ref %s hashes to %s, expected %s", ref.RefID, res.SHA256, res.Expected).
					WithPath(res.Path)
			}
		}
	}

	slog.Info("market data refs resolved",
		"mode", mode,
		"resolved", report.Resolved,
		"missing", report.Missing,
		"hash_mismatch", report.Mismatch,
	)

	if mode == Strict && firstErr != nil {
		return report, firstErr
	}
	return report, nil
}

func resolveOne(ref contract.MarketDataRef, cacheDir string) (Resolution, error) {
	res := Resolution{RefID: ref.RefID, Required: ref.Required, Expected: ref.SHA256, Status: StatusMissing}

	for _, rel := range CandidatePaths(ref) {
		data, err := os.ReadFile(filepath.Join(cacheDir, filepath.FromSlash(rel)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read cached ref %s: %w", rel, err)
		}

		res.Path = rel
		res.SHA256 = canonical.SHA256Hex(data)
		if ref.SHA256 != "" && res.SHA256 != ref.SHA256 {
			res.Status = StatusHashMismatch
		} else {
			res.Status = StatusResolved
		}
		return res, nil
	}
	return res, nil
}
