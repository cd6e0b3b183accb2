// Package faults defines the error taxonomy shared by every ledgerpack layer.
//
// Each error carries a Kind (which family of failure it is) and a Code (a
// stable, machine-readable reason code suitable for CI consumption). None of
// these errors are recovered internally: they propagate to the command
// boundary, where the Kind decides the process exit code.
package faults

import (
	"errors"
	"fmt"
	"sort"
)

// Kind categorizes an error family.
type Kind string

const (
	// KindSchema marks malformed or incomplete event or manifest structure.
	KindSchema Kind = "SCHEMA_ERROR"

	// KindDeterminism marks floats, CRLF, non-canonical bytes and similar
	// non-reproducible artifacts.
	KindDeterminism Kind = "DETERMINISM_VIOLATION"

	// KindHashMismatch marks file content that disagrees with its recorded hash.
	KindHashMismatch Kind = "HASH_MISMATCH"

	// KindLedgerInvariant marks double-entry, monotonicity, currency and
	// duplicate-id conflicts inside the ledger.
	KindLedgerInvariant Kind = "LEDGER_INVARIANT"

	// KindReplayMismatch marks recomputed outputs that differ from the
	// expectations stored in a bundle.
	KindReplayMismatch Kind = "REPLAY_MISMATCH"

	// KindMissingDataRef marks a required external data reference that could
	// not be found in strict resolution mode.
	KindMissingDataRef Kind = "MISSING_REQUIRED_DATA_REF"

	// KindDataRefHash marks an external data reference whose content
	// disagrees with its declared hash hint.
	KindDataRefHash Kind = "DATA_REF_HASH_MISMATCH"
)

// Reason codes. These appear in compare reports and CLI JSON output, so
// they must never be renamed.
const (
	CodeInvalidJSON          = "INVALID_JSON"
	CodeFloatDetected        = "FLOAT_DETECTED"
	CodeNullForbidden        = "NULL_FORBIDDEN"
	CodeUnsupportedType      = "UNSUPPORTED_TYPE"
	CodeInvalidUTF8          = "INVALID_UTF8"
	CodeCRLFDetected         = "CRLF_DETECTED"
	CodeMissingTrailingLF    = "MISSING_TRAILING_LF"
	CodeNotCanonical         = "NOT_CANONICAL"
	CodeSchemaVersion        = "SCHEMA_VERSION_MISMATCH"
	CodeMissingField         = "MISSING_FIELD"
	CodeWrongType            = "WRONG_TYPE"
	CodeInvalidValue         = "INVALID_VALUE"
	CodeEventIDConflict      = "EVENT_ID_CONFLICT"
	CodeRunNotFound          = "RUN_NOT_FOUND"
	CodeAmbiguousRun         = "AMBIGUOUS_RUN"
	CodeMissingRequiredFile  = "MISSING_REQUIRED_FILE"
	CodeManifestSchema       = "MANIFEST_SCHEMA"
	CodeManifestNotCanonical = "MANIFEST_NOT_CANONICAL"
	CodeBundleIDMismatch     = "BUNDLE_ID_MISMATCH"
	CodeContentHashMismatch  = "CONTENT_HASH_MISMATCH"
	CodeContentSizeMismatch  = "CONTENT_SIZE_MISMATCH"
	CodeContentMissing       = "CONTENT_FILE_MISSING"
	CodeSumsMalformed        = "SUMS_MALFORMED"
	CodeSumsNotSorted        = "SUMS_NOT_SORTED"
	CodeSumsCoverage         = "SUMS_COVERAGE"
	CodeSumsHashMismatch     = "SUMS_HASH_MISMATCH"
	CodeEventsNotSorted      = "EVENTS_NOT_SORTED"
	CodeSeqNotContiguous     = "SEQ_NOT_CONTIGUOUS"
	CodeDataRefsSchema       = "MARKET_DATA_REFS_SCHEMA"
	CodeDataRefsNotCanonical = "MARKET_DATA_REFS_NOT_CANONICAL"
	CodeFIFOLedgerMissing    = "FIFO_LEDGER_MISSING"
	CodeNonMonotonicTs       = "NON_MONOTONIC_TS_SIM"
	CodeCurrencyMismatch     = "CURRENCY_MISMATCH"
	CodeDoubleEntry          = "DOUBLE_ENTRY_VIOLATION"
	CodeLotInvariant         = "FIFO_LOT_INVARIANT"
	CodeEngineFailed         = "ENGINE_FAILED"
	CodeFillsMismatch        = "EXPECTED_FILLS_MISMATCH"
	CodePositionsMismatch    = "EXPECTED_POSITIONS_MISMATCH"
	CodeExpectedMissing      = "EXPECTED_OUTPUT_MISSING"
	CodeDataRefMissing       = "DATA_REF_MISSING"
	CodeDataRefHashMismatch  = "DATA_REF_HASH_MISMATCH"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is the single structured error type for the taxonomy.
type Error struct {
	// Kind is the error family.
	Kind Kind

	// Code is the machine-readable reason code.
	Code string

	// Message is a human-readable description.
	Message string

	// Path locates the failure (a bundle-relative file, a JSON path, or an
	// event id), when one applies.
	Path string

	// Details carries additional structured context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithPath returns a copy of e located at path.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// WithDetail returns a copy of e with an extra detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Schema creates a SchemaError.
func Schema(code, format string, args ...any) *Error {
	return newf(KindSchema, code, format, args...)
}

// Determinism creates a DeterminismViolation.
func Determinism(code, format string, args ...any) *Error {
	return newf(KindDeterminism, code, format, args...)
}

// HashMismatch creates a HashMismatchError.
func HashMismatch(code, format string, args ...any) *Error {
	return newf(KindHashMismatch, code, format, args...)
}

// LedgerInvariant creates a LedgerInvariantError.
func LedgerInvariant(code, format string, args ...any) *Error {
	return newf(KindLedgerInvariant, code, format, args...)
}

// ReplayMismatch creates a ReplayMismatchError.
func ReplayMismatch(code, format string, args ...any) *Error {
	return newf(KindReplayMismatch, code, format, args...)
}

// MissingDataRef creates a MissingRequiredDataRefError.
func MissingDataRef(format string, args ...any) *Error {
	return newf(KindMissingDataRef, CodeDataRefMissing, format, args...)
}

// DataRefHash creates a DataRefHashMismatchError.
func DataRefHash(format string, args ...any) *Error {
	return newf(KindDataRefHash, CodeDataRefHashMismatch, format, args...)
}

// As extracts the taxonomy error from err, if there is one.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not a taxonomy error.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// CodeOf returns the reason code of err. Errors outside the taxonomy report
// CodeInternal.
func CodeOf(err error) string {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return CodeInternal
}

// IsSchema reports whether err is a SchemaError.
func IsSchema(err error) bool { return KindOf(err) == KindSchema }

// IsDeterminism reports whether err is a DeterminismViolation.
func IsDeterminism(err error) bool { return KindOf(err) == KindDeterminism }

// IsHashMismatch reports whether err is a HashMismatchError.
func IsHashMismatch(err error) bool { return KindOf(err) == KindHashMismatch }

// IsLedgerInvariant reports whether err is a LedgerInvariantError.
func IsLedgerInvariant(err error) bool { return KindOf(err) == KindLedgerInvariant }

// IsReplayMismatch reports whether err is a ReplayMismatchError.
func IsReplayMismatch(err error) bool { return KindOf(err) == KindReplayMismatch }

// IsMissingDataRef reports whether err is a MissingRequiredDataRefError.
func IsMissingDataRef(err error) bool { return KindOf(err) == KindMissingDataRef }

// IsDataRefHash reports whether err is a DataRefHashMismatchError.
func IsDataRefHash(err error) bool { return KindOf(err) == KindDataRefHash }

// SortedCodes returns codes sorted and de-duplicated.
func SortedCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
