package event

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/quant"
	"github.com/roach88/ledgerpack/internal/testutil"
)

func TestNormalizeFill(t *testing.T) {
	f := testutil.NewEventFactory("run-1")
	raw := f.Fill("AAPL", "buy", "2.50", "100", "1.00")

	ev, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "run-1-evt-0001", ev.EventID)
	assert.Equal(t, TypeFill, ev.Type)
	require.True(t, ev.IsFill())

	fill := ev.Fill()
	assert.Equal(t, Buy, fill.Side)
	assert.True(t, quant.MustDecimal("2.5").Equal(fill.Quantity))
	assert.True(t, quant.MustDecimal("100").Equal(fill.Price))
	assert.True(t, quant.MustDecimal("1").Equal(fill.Fee))
	assert.Equal(t, "fill-0001", fill.FillID)

	payload := ev.Object()["payload"].(canonical.Object)
	qty, _ := payload.Str("quantity")
	assert.Equal(t, "2.5", qty)
	side, _ := payload.Str("side")
	assert.Equal(t, "BUY", side)
}

func TestNormalizeEquivalentDecimalsEncodeIdentically(t *testing.T) {
	a := testutil.NewEventFactory("run-1").Fill("AAPL", "BUY", "2.50", "100.0", "")
	b := testutil.NewEventFactory("run-1").Fill("AAPL", "BUY", "2.5", "100", "0")

	evA, err := Normalize(a)
	require.NoError(t, err)
	evB, err := Normalize(b)
	require.NoError(t, err)
	assert.Equal(t, string(evA.Bytes()), string(evB.Bytes()))
}

func TestNormalizeDropsWallClockFields(t *testing.T) {
	raw := testutil.NewEventFactory("run-1").Lifecycle("SUBMIT", "AAPL")
	raw["emitted_at_utc"] = canonical.String("2024-01-01T00:00:00Z")
	raw["ts_utc"] = canonical.String("2024-01-01T00:00:00Z")
	raw["payload"] = canonical.Object{
		"emitted_at": canonical.String("now"),
		"venue":      canonical.String("SIM"),
	}

	ev, err := Normalize(raw)
	require.NoError(t, err)

	obj := ev.Object()
	assert.NotContains(t, obj, "emitted_at_utc")
	assert.NotContains(t, obj, "ts_utc")
	payload := obj["payload"].(canonical.Object)
	assert.NotContains(t, payload, "emitted_at")
	assert.Contains(t, payload, "venue")
}

func TestNormalizeStripsBundleFieldsAndNulls(t *testing.T) {
	raw := testutil.NewEventFactory("run-1").Lifecycle("ACK", "AAPL")
	raw["seq"] = canonical.Int(4)
	raw["event_time_utc"] = canonical.String("1970-01-01T00:00:01Z")
	raw["request_id"] = canonical.Null{}
	raw["payload"] = canonical.Object{"note": canonical.Null{}, "keep": canonical.Array{canonical.Null{}, canonical.Int(1)}}

	ev, err := Normalize(raw)
	require.NoError(t, err)

	obj := ev.Object()
	assert.NotContains(t, obj, "seq")
	assert.NotContains(t, obj, "event_time_utc")
	assert.NotContains(t, obj, "request_id")
	assert.Equal(t, canonical.Object{"keep": canonical.Array{canonical.Int(1)}}, obj["payload"])
}

func TestNormalizePreservesUnknownFields(t *testing.T) {
	raw := testutil.NewEventFactory("run-1").Fill("AAPL", "SELL", "1", "10", "")
	raw["strategy"] = canonical.String("mean-revert")
	raw["payload"].(canonical.Object)["liquidity"] = canonical.String("MAKER")

	ev, err := Normalize(raw)
	require.NoError(t, err)

	obj := ev.Object()
	s, _ := obj.Str("strategy")
	assert.Equal(t, "mean-revert", s)
	l, _ := obj["payload"].(canonical.Object).Str("liquidity")
	assert.Equal(t, "MAKER", l)
}

func TestNormalizeSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(canonical.Object)
		code   string
		path   string
	}{
		{"wrong schema version", func(o canonical.Object) { o["schema_version"] = canonical.String("V0") }, faults.CodeSchemaVersion, "$.schema_version"},
		{"missing event_id", func(o canonical.Object) { delete(o, "event_id") }, faults.CodeMissingField, "$.event_id"},
		{"empty run_id", func(o canonical.Object) { o["run_id"] = canonical.String(" ") }, faults.CodeInvalidValue, "$.run_id"},
		{"symbol wrong type", func(o canonical.Object) { o["symbol"] = canonical.Int(1) }, faults.CodeWrongType, "$.symbol"},
		{"ts_sim as string", func(o canonical.Object) { o["ts_sim"] = canonical.String("5") }, faults.CodeWrongType, "$.ts_sim"},
		{"negative ts_sim", func(o canonical.Object) { o["ts_sim"] = canonical.Int(-1) }, faults.CodeInvalidValue, "$.ts_sim"},
		{"unknown type", func(o canonical.Object) { o["event_type"] = canonical.String("PARTIAL") }, faults.CodeInvalidValue, "$.event_type"},
		{"payload not object", func(o canonical.Object) { o["payload"] = canonical.String("x") }, faults.CodeWrongType, "$.payload"},
		{"missing side", func(o canonical.Object) { delete(o["payload"].(canonical.Object), "side") }, faults.CodeMissingField, "$.payload.side"},
		{"bad side", func(o canonical.Object) { o["payload"].(canonical.Object)["side"] = canonical.String("HOLD") }, faults.CodeInvalidValue, "$.payload.side"},
		{"missing quantity", func(o canonical.Object) { delete(o["payload"].(canonical.Object), "quantity") }, faults.CodeMissingField, "$.payload.quantity"},
		{"missing price", func(o canonical.Object) { delete(o["payload"].(canonical.Object), "price") }, faults.CodeMissingField, "$.payload.price"},
		{"integer quantity", func(o canonical.Object) { o["payload"].(canonical.Object)["quantity"] = canonical.Int(2) }, faults.CodeWrongType, "$.payload.quantity"},
		{"zero quantity", func(o canonical.Object) { o["payload"].(canonical.Object)["quantity"] = canonical.String("0") }, faults.CodeInvalidValue, "$.payload.quantity"},
		{"negative price", func(o canonical.Object) { o["payload"].(canonical.Object)["price"] = canonical.String("-1") }, faults.CodeInvalidValue, "$.payload.price"},
		{"exponent price", func(o canonical.Object) { o["payload"].(canonical.Object)["price"] = canonical.String("1e2") }, faults.CodeInvalidValue, "$.payload.price"},
		{"negative fee", func(o canonical.Object) { o["payload"].(canonical.Object)["fee"] = canonical.String("-0.01") }, faults.CodeInvalidValue, "$.payload.fee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := testutil.NewEventFactory("run-1").Fill("AAPL", "BUY", "1", "100", "1")
			tt.mutate(raw)

			_, err := Normalize(raw)
			require.Error(t, err)
			assert.True(t, faults.IsSchema(err), "expected schema error, got %v", err)

			fe, ok := faults.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.path, fe.Path)
		})
	}
}

func TestNormalizeJSONRejectsFloats(t *testing.T) {
	data := []byte(`{"schema_version":"BETA_EXEC_V1","event_id":"e1","run_id":"r","session_id":"s","intent_id":"i","symbol":"AAPL","event_type":"FILL","ts_sim":1,"payload":{"side":"BUY","quantity":"1","price":101.25}}`)

	_, err := NormalizeJSON(data)
	require.Error(t, err)
	assert.True(t, faults.IsDeterminism(err))
	assert.Equal(t, faults.CodeFloatDetected, faults.CodeOf(err))
}

func TestDedupe(t *testing.T) {
	f := testutil.NewEventFactory("run-1")
	raw := f.Fill("AAPL", "BUY", "1", "100", "")
	other := f.Fill("AAPL", "BUY", "1", "101", "")

	a, err := Normalize(raw)
	require.NoError(t, err)
	b, err := Normalize(raw.Clone())
	require.NoError(t, err)
	c, err := Normalize(other)
	require.NoError(t, err)

	out, err := Dedupe([]Event{a, c, b})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, a.EventID, out[0].EventID)
	assert.Equal(t, c.EventID, out[1].EventID)

	conflicting := raw.Clone()
	conflicting["payload"].(canonical.Object)["price"] = canonical.String("999")
	d, err := Normalize(conflicting)
	require.NoError(t, err)

	_, err = Dedupe([]Event{a, d})
	require.Error(t, err)
	assert.Equal(t, faults.CodeEventIDConflict, faults.CodeOf(err))
}

func TestSortOrder(t *testing.T) {
	mk := func(run, session string, ts int64, typ, id string) canonical.Object {
		return canonical.Object{
			"schema_version": canonical.String(SchemaVersion),
			"event_id":       canonical.String(id),
			"run_id":         canonical.String(run),
			"session_id":     canonical.String(session),
			"intent_id":      canonical.String("i"),
			"symbol":         canonical.String("AAPL"),
			"event_type":     canonical.String(typ),
			"ts_sim":         canonical.Int(ts),
		}
	}
	raws := []canonical.Object{
		mk("r2", "s1", 1, "ACK", "a"),
		mk("r1", "s2", 0, "ACK", "b"),
		mk("r1", "s1", 5, "SUBMIT", "c"),
		mk("r1", "s1", 5, "ACK", "e"),
		mk("r1", "s1", 5, "ACK", "d"),
		mk("r1", "s1", 2, "INTENT", "f"),
	}

	want := []string{"f", "d", "e", "c", "b", "a"}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := make([]canonical.Object, len(raws))
		copy(shuffled, raws)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		events, err := Prepare(shuffled)
		require.NoError(t, err)

		got := make([]string, len(events))
		for j, ev := range events {
			got[j] = ev.EventID
		}
		assert.Equal(t, want, got)
	}
}

func TestPrepareReportsIndex(t *testing.T) {
	f := testutil.NewEventFactory("run-1")
	bad := f.Fill("AAPL", "BUY", "1", "100", "")
	delete(bad, "symbol")

	_, err := Prepare([]canonical.Object{f.Fill("AAPL", "BUY", "1", "100", ""), bad})
	fe, ok := faults.As(err)
	require.True(t, ok)
	assert.Equal(t, "1", fe.Details["index"])
}

func TestComputeEventIDIgnoresIdentityNoise(t *testing.T) {
	raw := testutil.NewEventFactory("run-1").Fill("AAPL", "BUY", "1", "100", "")
	id1, err := ComputeEventID(raw)
	require.NoError(t, err)

	noisy := raw.Clone()
	noisy["event_id"] = canonical.String("something-else")
	noisy["emitted_at_utc"] = canonical.String("2024-06-01T12:00:00Z")
	id2, err := ComputeEventID(noisy)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)

	changed := raw.Clone()
	changed["payload"].(canonical.Object)["quantity"] = canonical.String("2")
	id3, err := ComputeEventID(changed)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestRunsAndFilter(t *testing.T) {
	a := testutil.NewEventFactory("run-b")
	b := testutil.NewEventFactory("run-a")
	events, err := Prepare([]canonical.Object{
		a.Fill("AAPL", "BUY", "1", "1", ""),
		b.Fill("AAPL", "BUY", "1", "1", ""),
		a.Lifecycle("ACK", "AAPL"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"run-a", "run-b"}, RunIDs(events))
	assert.Len(t, FilterRun(events, "run-b"), 2)
	assert.Empty(t, FilterRun(events, "run-c"))
}

func TestLoadJSONL(t *testing.T) {
	dir := t.TempDir()
	f := testutil.NewEventFactory("run-1")
	second := f.Fill("AAPL", "SELL", "1", "100", "")
	first := f.Fill("AAPL", "BUY", "1", "100", "")
	path := testutil.WriteJSONL(t, dir, "events.jsonl", []canonical.Object{first, second, first})

	events, err := LoadJSONL(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "run-1-evt-0001", events[0].EventID)

	_, err = LoadJSONL(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)

	floaty := filepath.Join(dir, "float.jsonl")
	require.NoError(t, os.WriteFile(floaty, []byte(`{"ts_sim":1.5}`+"\n"), 0o644))
	_, err = LoadJSONL(floaty)
	assert.True(t, faults.IsDeterminism(err))
}
