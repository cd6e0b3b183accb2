// Package ledger implements the double-entry execution ledger.
//
// An Engine turns normalized execution events into journal entries and
// per-symbol positions. Every entry is checked to balance before it is
// committed. Position cost is tracked by a CostBook: a single weighted
// average (WAC) or a queue of lots consumed oldest first (FIFO). Both books
// support shorts and flips; realized PnL only moves on a close.
//
// All arithmetic is quantized through a quant.Policy immediately after each
// multiply or divide, so realized PnL is derived from the exact cost that
// left inventory and the journal always balances to zero.
//
// An Engine is owned by one run and is not safe for concurrent use. Any
// error it returns is fatal: the engine refuses further mutation.
package ledger
