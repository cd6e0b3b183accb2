// Package canonical provides the value model and byte-exact serialization
// that every persisted ledgerpack artifact goes through.
//
// This package imports nothing internal except faults. It is the foundation
// the event, ledger and contract layers are built on.
//
// Key constraints:
//   - NO float types anywhere: decimals are carried as strings
//   - Object keys sorted (RFC 8785 UTF-16 order), no whitespace
//   - LF-only line endings, documents end with exactly one LF
//   - Same logical value always encodes to the same bytes
package canonical
