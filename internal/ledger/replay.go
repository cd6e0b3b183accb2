package ledger

import (
	"fmt"

	"github.com/roach88/ledgerpack/internal/event"
	"github.com/roach88/ledgerpack/internal/faults"
)

// Replay applies events in order to a fresh engine. observe, when set, sees
// every apply result. Events are expected to be deduplicated already, so a
// Conflict outcome is escalated to an invariant failure.
func Replay(cfg Config, events []event.Event, observe func(event.Event, ApplyResult)) (*Engine, error) {
	engine, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		res, err := engine.Apply(ev)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", ev.EventID, err)
		}
		if observe != nil {
			observe(ev, res)
		}
		if res.Outcome == Conflict {
			return nil, faults.LedgerInvariant(faults.CodeEventIDConflict,
				"conflicting event %s during replay", ev.EventID).WithPath(ev.EventID)
		}
	}
	return engine, nil
}
