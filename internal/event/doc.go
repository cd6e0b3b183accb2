// Package event defines the BETA_EXEC_V1 execution event, its boundary
// normalization and its canonical replay order.
//
// Raw events arrive as loosely typed JSON objects from whatever produced
// them (live session, backtest, simulator). Normalize validates them once
// and returns a typed Event; everything downstream works with the typed
// form. Prepare is the normalize, dedupe and sort pipeline shared by the
// bridge, the builder and the runner.
package event
