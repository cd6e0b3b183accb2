package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/canonical"
)

// EventFactory builds raw BETA_EXEC_V1 events with predictable ids and
// ts_sim values. Ids are "<run>-evt-0001", "<run>-evt-0002", ...
type EventFactory struct {
	RunID     string
	SessionID string
	Clock     *SimClock

	n int
}

// NewEventFactory returns a factory for runID whose clock starts at 0.
func NewEventFactory(runID string) *EventFactory {
	return &EventFactory{
		RunID:     runID,
		SessionID: "sess-1",
		Clock:     NewSimClock(0, 1),
	}
}

func (f *EventFactory) base(typ, symbol string, ts int64) canonical.Object {
	f.n++
	return canonical.Object{
		"schema_version": canonical.String("BETA_EXEC_V1"),
		"event_id":       canonical.String(fmt.Sprintf("%s-evt-%04d", f.RunID, f.n)),
		"run_id":         canonical.String(f.RunID),
		"session_id":     canonical.String(f.SessionID),
		"intent_id":      canonical.String(fmt.Sprintf("intent-%04d", f.n)),
		"symbol":         canonical.String(symbol),
		"event_type":     canonical.String(typ),
		"ts_sim":         canonical.Int(ts),
		"payload":        canonical.Object{},
	}
}

// Fill returns a FILL at the next tick. An empty fee is omitted.
func (f *EventFactory) Fill(symbol, side, qty, price, fee string) canonical.Object {
	return f.FillAt(f.Clock.Tick(), symbol, side, qty, price, fee)
}

// FillAt returns a FILL at an explicit ts_sim.
func (f *EventFactory) FillAt(ts int64, symbol, side, qty, price, fee string) canonical.Object {
	obj := f.base("FILL", symbol, ts)
	payload := canonical.Object{
		"side":     canonical.String(side),
		"quantity": canonical.String(qty),
		"price":    canonical.String(price),
		"fill_id":  canonical.String(fmt.Sprintf("fill-%04d", f.n)),
	}
	if fee != "" {
		payload["fee"] = canonical.String(fee)
	}
	obj["payload"] = payload
	return obj
}

// Lifecycle returns a non-FILL event of the given type at the next tick.
func (f *EventFactory) Lifecycle(typ, symbol string) canonical.Object {
	return f.base(typ, symbol, f.Clock.Tick())
}

// WriteJSONL writes objs as canonical JSONL under dir and returns the path.
func WriteJSONL(t *testing.T, dir, name string, objs []canonical.Object) string {
	t.Helper()

	data, err := canonical.MarshalLines(objs)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
