package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/config"
	"github.com/roach88/ledgerpack/internal/metrics"
	"github.com/roach88/ledgerpack/internal/testutil"
)

// testRootOptions returns options with the default configuration already
// loaded, so commands never read the environment.
func testRootOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.Method = "fifo"
	cfg.StorePath = filepath.Join(t.TempDir(), "ledger.db")
	return &RootOptions{Format: format, Config: &cfg, Metrics: metrics.New()}
}

// runCommand executes cmd with args and returns its stdout.
func runCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeResponse parses a JSON CLI response with a map payload.
func decodeResponse(t *testing.T, out string) (CLIResponse, map[string]any) {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data, _ := resp.Data.(map[string]any)
	return resp, data
}

// sampleEvents returns one run with a submit and three fills whose FIFO
// realized PnL is 45.
func sampleEvents(runID string) []canonical.Object {
	f := testutil.NewEventFactory(runID)
	return []canonical.Object{
		f.Lifecycle("SUBMIT", "AAPL"),
		f.Fill("AAPL", "BUY", "2", "100", "1.00"),
		f.Fill("AAPL", "BUY", "1", "110", "1.00"),
		f.Fill("AAPL", "SELL", "2.5", "120", "1.00"),
	}
}

// writeEvents writes sampleEvents of each run to one JSONL file.
func writeEvents(t *testing.T, runIDs ...string) string {
	t.Helper()
	var objs []canonical.Object
	for _, id := range runIDs {
		objs = append(objs, sampleEvents(id)...)
	}
	return testutil.WriteJSONL(t, t.TempDir(), "events.jsonl", objs)
}

// buildBundle builds a FIFO bundle with expected outputs and returns its
// directory.
func buildBundle(t *testing.T, extra ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "bundle")
	args := append([]string{writeEvents(t, "run-1"), "--out", dir, "--include-outputs"}, extra...)
	_, err := runCommand(NewBuildCommand(testRootOptions(t, "text")), args...)
	require.NoError(t, err)
	return dir
}
