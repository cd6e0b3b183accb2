// Package store provides SQLite-backed durable storage for execution
// events and bridge artifacts.
//
// The store implements an append-only log with:
//   - Ingest batches: one row per Ingest call, keyed by a ULID
//   - Execution events: normalized canonical bodies keyed by event_id
//   - Artifacts: named byte blobs grouped by namespace
//
// # Critical Patterns
//
// Idempotent ingest
//   - INSERT ... ON CONFLICT(event_id) DO NOTHING
//   - A stored event with a different sha256 fails the batch as a conflict
//
// Deterministic reads
//   - Events are read ORDER BY run_id, session_id, ts_sim, event_type,
//     event_id with binary collation, the same order replay uses
//   - No column holds wall-clock time
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Events must reference their batch
package store
