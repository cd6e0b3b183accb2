// Package builder turns one run of an execution-event log into a replay
// bundle.
//
// Events are normalized, deduplicated and sorted before anything touches the
// output directory. Each bundle event gains a seq (from 0) and a synthetic
// event_time_utc of epoch plus ts_sim seconds. Expected outputs come from a
// fresh ledger engine. The manifest and sums are written last, after every
// content file is final.
package builder
