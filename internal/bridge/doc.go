// Package bridge replays a raw execution-event stream through a fresh
// ledger engine and emits deterministic artifacts: the normalized events,
// one applied-event row per event, an optional equity curve priced from
// external marks, and the final ledger state.
//
// Artifacts go through a Sink. DirSink writes files atomically, RetrySink
// wraps any sink with bounded retries, and the store package provides a
// SQLite-backed sink.
package bridge
