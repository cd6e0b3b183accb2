// Package validator checks a replay bundle against the contract: required
// files, the manifest's canonical bytes and schema, content and sums hashes,
// newline and float rules, event ordering, and the optional market-data and
// FIFO ledger documents.
//
// Checks run in a fixed order and the first violation is returned as a
// typed error, so the same bundle always fails with the same reason code.
package validator
