// Package runner replays a validated bundle through a fresh ledger engine
// and diffs the recomputed fills and positions against the bundle's stored
// expected outputs. The outcome is a CompareReport plus a fixed exit code.
package runner
