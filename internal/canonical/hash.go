package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/ledgerpack/internal/faults"
)

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashObject returns the SHA-256 of v's canonical JSON (no trailing LF).
func HashObject(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash object: %w", err)
	}
	return SHA256Hex(data), nil
}

// CheckLF enforces the newline rules for persisted text: no CR anywhere and
// exactly one LF at the end of non-empty content.
func CheckLF(data []byte) error {
	if bytes.Contains(data, []byte("\r\n")) {
		return faults.Determinism(faults.CodeCRLFDetected, "CRLF line ending detected")
	}
	if bytes.IndexByte(data, '\r') >= 0 {
		return faults.Determinism(faults.CodeCRLFDetected, "carriage return detected")
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		return faults.Determinism(faults.CodeMissingTrailingLF, "missing trailing LF")
	}
	return nil
}

// CheckDocument verifies that data is exactly the canonical encoding of the
// single JSON value it contains, trailing LF included.
func CheckDocument(data []byte) error {
	if err := CheckLF(data); err != nil {
		return err
	}
	v, err := Parse(data)
	if err != nil {
		return err
	}
	want, err := MarshalDocument(v)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, data) {
		return faults.Determinism(faults.CodeNotCanonical, "document is not canonical JSON")
	}
	return nil
}

// CheckLines verifies that every line of data is canonical JSON.
func CheckLines(data []byte) error {
	objs, err := ParseLines(data)
	if err != nil {
		return err
	}
	want, err := MarshalLines(objs)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, data) {
		return faults.Determinism(faults.CodeNotCanonical, "JSONL is not canonical")
	}
	return nil
}
