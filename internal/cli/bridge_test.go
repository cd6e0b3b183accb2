package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/bridge"
	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/store"
)

func writeMarks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"price":"100","symbol":"AAPL","ts_sim":0}`+"\n"+
			`{"price":"130","symbol":"AAPL","ts_sim":3}`+"\n"), 0o644))
	return path
}

func TestBridgeCommandWritesArtifacts(t *testing.T) {
	out := t.TempDir()

	stdout, err := runCommand(NewBridgeCommand(testRootOptions(t, "json")),
		writeEvents(t, "run-1"), "--out", out, "--marks", writeMarks(t), "--opening-cash", "1000")
	require.NoError(t, err)

	resp, data := decodeResponse(t, stdout)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", data["run_id"])
	assert.Equal(t, float64(4), data["events"])

	for _, name := range []string{
		bridge.ArtifactNormalizedEvents,
		bridge.ArtifactAppliedEvents,
		bridge.ArtifactEquityCurve,
		bridge.ArtifactLedgerState,
	} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	rows, err := canonical.ParseLines(mustRead(t, filepath.Join(out, bridge.ArtifactEquityCurve)))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	// 1000 - 201 - 111 + 299 cash, 0.5 AAPL at 130.
	equity, _ := rows[len(rows)-1].Str("equity")
	assert.Equal(t, "1052.00000000", equity)
}

func TestBridgeCommandIsOrderIndependent(t *testing.T) {
	events := sampleEvents("run-1")
	forward := filepath.Join(t.TempDir(), "forward.jsonl")
	backward := filepath.Join(t.TempDir(), "backward.jsonl")
	writeLines(t, forward, events)
	writeLines(t, backward, []canonical.Object{events[3], events[1], events[0], events[2], events[1]})

	outA, outB := t.TempDir(), t.TempDir()
	_, err := runCommand(NewBridgeCommand(testRootOptions(t, "text")), forward, "--out", outA)
	require.NoError(t, err)
	_, err = runCommand(NewBridgeCommand(testRootOptions(t, "text")), backward, "--out", outB)
	require.NoError(t, err)

	for _, name := range []string{bridge.ArtifactNormalizedEvents, bridge.ArtifactAppliedEvents, bridge.ArtifactLedgerState} {
		assert.Equal(t, mustRead(t, filepath.Join(outA, name)), mustRead(t, filepath.Join(outB, name)), name)
	}
}

func TestBridgeCommandToStore(t *testing.T) {
	opts := testRootOptions(t, "text")

	stdout, err := runCommand(NewBridgeCommand(opts), writeEvents(t, "run-1"), "--namespace", "nightly")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Bridged run run-1")

	st, err := store.Open(opts.Config.StorePath)
	require.NoError(t, err)
	defer st.Close()
	infos, err := st.Artifacts(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Len(t, infos, 3)
}

func TestBridgeCommandRequiresDestination(t *testing.T) {
	_, err := runCommand(NewBridgeCommand(testRootOptions(t, "text")), writeEvents(t, "run-1"))
	require.Error(t, err)
	assert.Equal(t, ExitUsage, GetExitCode(err))
}

func TestBridgeCommandRejectsBadOpeningCash(t *testing.T) {
	_, err := runCommand(NewBridgeCommand(testRootOptions(t, "text")),
		writeEvents(t, "run-1"), "--out", t.TempDir(), "--opening-cash", "lots")
	require.Error(t, err)
	assert.Equal(t, ExitContract, GetExitCode(err))
}

func TestSnapshotCommand(t *testing.T) {
	events := writeEvents(t, "run-1")
	marks := writeMarks(t)
	output := filepath.Join(t.TempDir(), "snap.json")

	stdout, err := runCommand(NewSnapshotCommand(testRootOptions(t, "json")), events, "--marks", marks, "-o", output)
	require.NoError(t, err)

	resp, data := decodeResponse(t, stdout)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "-13.00000000", data["cash"], "no opening cash")
	assert.Equal(t, "45.00000000", data["realized_pnl"])

	doc, err := canonical.ParseObject(mustRead(t, output))
	require.NoError(t, err)
	equity, _ := doc.Str("equity")
	assert.Equal(t, data["equity"], equity)
	assert.Equal(t, "52.00000000", equity)
}

func TestSnapshotCommandEarlierTs(t *testing.T) {
	stdout, err := runCommand(NewSnapshotCommand(testRootOptions(t, "json")),
		writeEvents(t, "run-1"), "--marks", writeMarks(t), "--ts", "2")
	require.NoError(t, err)

	_, data := decodeResponse(t, stdout)
	assert.Equal(t, float64(2), data["ts_sim"])
	assert.Equal(t, "0.00000000", data["realized_pnl"], "the sell is still ahead")
	assert.Equal(t, "-201.00000000", data["cash"])
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func writeLines(t *testing.T, path string, objs []canonical.Object) {
	t.Helper()
	data, err := canonical.MarshalLines(objs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
