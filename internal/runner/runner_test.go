package runner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/builder"
	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/datarefs"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/metrics"
	"github.com/roach88/ledgerpack/internal/testutil"
	"github.com/roach88/ledgerpack/internal/validator"
)

func buildBundle(t *testing.T, mutate func(*builder.Options)) string {
	t.Helper()

	f := testutil.NewEventFactory("run-1")
	events := []canonical.Object{
		f.Lifecycle("SUBMIT", "AAPL"),
		f.Fill("AAPL", "BUY", "2", "100", "1.00"),
		f.Fill("AAPL", "BUY", "1", "110", "1.00"),
		f.Fill("AAPL", "SELL", "2.5", "120", "1.00"),
	}

	dir := filepath.Join(t.TempDir(), "bundle")
	opts := builder.Options{
		OutDir:         dir,
		Ledger:         ledger.Config{QuoteCurrency: "USD", Method: ledger.MethodFIFO},
		IncludeOutputs: true,
		CreatedAtUTC:   "2024-01-01T00:00:00Z",
	}
	if mutate != nil {
		mutate(&opts)
	}
	_, err := builder.Build(context.Background(), builder.StaticSource(events), opts)
	require.NoError(t, err)
	return dir
}

func TestRunPasses(t *testing.T) {
	for _, version := range []int{contract.V1, contract.V2} {
		dir := buildBundle(t, func(o *builder.Options) { o.ContractVersion = version })

		report, err := Run(context.Background(), dir, Options{RequireExpected: true})
		require.NoError(t, err, "version %d", version)
		assert.True(t, report.Passed())
		assert.Equal(t, ExitPass, report.ExitCode)
		assert.Empty(t, report.ReasonCodes)
		assert.True(t, report.Compared)
		assert.Equal(t, 4, report.EventCount)
		assert.Equal(t, 3, report.FillCount)
	}
}

func TestRunDetectsExpectedFillMismatch(t *testing.T) {
	dir := buildBundle(t, nil)
	data := testutil.ReadBundleFile(t, dir, contract.PathExpectedFills)
	tampered := strings.Replace(string(data), `"realized_pnl":"45.00000000"`, `"realized_pnl":"46.00000000"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, contract.WriteFile(dir, contract.PathExpectedFills, []byte(tampered)))
	testutil.ResealBundle(t, dir)

	report, err := Run(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsReplayMismatch(err))
	assert.Equal(t, ExitReplayMismatch, ExitCodeFor(err))
	assert.Equal(t, StatusFail, report.Status)
	assert.Equal(t, []string{faults.CodeFillsMismatch}, report.ReasonCodes)

	require.Len(t, report.Diffs, 1)
	assert.Equal(t, "fill", report.Diffs[0].Kind)
	assert.Equal(t, "realized_pnl", report.Diffs[0].Field)
	assert.Equal(t, "46.00000000", report.Diffs[0].Expected)
	assert.Equal(t, "45.00000000", report.Diffs[0].Actual)
}

func TestRunDetectsPositionMismatch(t *testing.T) {
	dir := buildBundle(t, nil)
	data := testutil.ReadBundleFile(t, dir, contract.PathExpectedPosition)
	tampered := strings.Replace(string(data), `"quantity":"0.50000000"`, `"quantity":"0.60000000"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, contract.WriteFile(dir, contract.PathExpectedPosition, []byte(tampered)))
	testutil.ResealBundle(t, dir)

	report, err := Run(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.Equal(t, []string{faults.CodePositionsMismatch}, report.ReasonCodes)
	require.NotEmpty(t, report.Diffs)
	assert.Equal(t, "AAPL", report.Diffs[0].Key)
}

func TestRunHashFailureStopsBeforeReplay(t *testing.T) {
	dir := buildBundle(t, nil)
	data := testutil.ReadBundleFile(t, dir, contract.PathEvents)
	data[len(data)-3] = 'x'
	require.NoError(t, contract.WriteFile(dir, contract.PathEvents, data))

	report, err := Run(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.Equal(t, ExitHashMismatch, report.ExitCode)
	assert.Equal(t, []string{faults.CodeContentHashMismatch}, report.ReasonCodes)
	assert.Zero(t, report.EventCount)
}

func TestRunRequireExpected(t *testing.T) {
	dir := buildBundle(t, func(o *builder.Options) { o.IncludeOutputs = false })

	report, err := Run(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.False(t, report.Compared)

	report, err = Run(context.Background(), dir, Options{RequireExpected: true})
	require.Error(t, err)
	assert.Equal(t, []string{faults.CodeExpectedMissing}, report.ReasonCodes)
	assert.Equal(t, ExitReplayMismatch, report.ExitCode)
}

func TestRunWritesReportsWithoutChangingBundleID(t *testing.T) {
	dir := buildBundle(t, nil)
	before := testutil.ReadBundleFile(t, dir, contract.PathManifest)

	report, err := Run(context.Background(), dir, Options{WriteReports: true})
	require.NoError(t, err)

	assert.Equal(t, before, testutil.ReadBundleFile(t, dir, contract.PathManifest))

	obj, err := canonical.ParseObject(testutil.ReadBundleFile(t, dir, contract.PathCompareReport))
	require.NoError(t, err)
	status, _ := obj.Str("status")
	assert.Equal(t, StatusPass, status)
	id, _ := obj.Str("bundle_id")
	assert.Equal(t, report.BundleID, id)

	// The bundle still validates with the report embedded, and a second
	// replay writes the same report.
	again, err := Run(context.Background(), dir, Options{WriteReports: true})
	require.NoError(t, err)
	assert.Equal(t, report.Object(), again.Object())
}

func TestRunResolution(t *testing.T) {
	withRefs := func(o *builder.Options) {
		o.MarketDataRefs = contract.MarketDataRefsObject([]contract.MarketDataRef{{
			RefID: "r1", Provider: "polygon", Dataset: "bars", Symbol: "AAPL",
			Start: "2024-01-01", End: "2024-01-02", Format: "csv", Required: true,
		}})
	}

	t.Run("best effort reports but passes", func(t *testing.T) {
		dir := buildBundle(t, withRefs)
		report, err := Run(context.Background(), dir, Options{ResolveMode: datarefs.BestEffort, CacheDir: t.TempDir(), WriteReports: true})
		require.NoError(t, err)
		require.NotNil(t, report.Resolution)
		assert.Equal(t, 1, report.Resolution.Missing)

		obj, err := canonical.ParseObject(testutil.ReadBundleFile(t, dir, contract.PathResolutionReport))
		require.NoError(t, err)
		mode, _ := obj.Str("mode")
		assert.Equal(t, "best-effort", mode)
	})

	t.Run("strict fails with exit 6", func(t *testing.T) {
		dir := buildBundle(t, withRefs)
		report, err := Run(context.Background(), dir, Options{ResolveMode: datarefs.Strict, CacheDir: t.TempDir()})
		require.Error(t, err)
		assert.True(t, faults.IsMissingDataRef(err))
		assert.Equal(t, ExitMissingDataRef, report.ExitCode)
		assert.Contains(t, report.ReasonCodes, faults.CodeDataRefMissing)
	})

	t.Run("strict failure still writes reports", func(t *testing.T) {
		dir := buildBundle(t, withRefs)
		report, err := Run(context.Background(), dir, Options{ResolveMode: datarefs.Strict, CacheDir: t.TempDir(), WriteReports: true})
		require.Error(t, err)
		assert.True(t, faults.IsMissingDataRef(err))
		assert.Equal(t, ExitMissingDataRef, report.ExitCode)

		resolution, err := canonical.ParseObject(testutil.ReadBundleFile(t, dir, contract.PathResolutionReport))
		require.NoError(t, err)
		mode, _ := resolution.Str("mode")
		assert.Equal(t, "strict", mode)

		compare, err := canonical.ParseObject(testutil.ReadBundleFile(t, dir, contract.PathCompareReport))
		require.NoError(t, err)
		status, _ := compare.Str("status")
		assert.Equal(t, StatusFail, status)
		exitCode, _ := compare.IntAt("exit_code")
		assert.Equal(t, int64(ExitMissingDataRef), exitCode)

		_, err = validator.Validate(dir)
		assert.NoError(t, err, "reports are covered by the refreshed sums file")
	})

	t.Run("strict passes when cached", func(t *testing.T) {
		dir := buildBundle(t, withRefs)
		cache := t.TempDir()
		require.NoError(t, contract.WriteFile(cache, "polygon/bars/AAPL_2024-01-01_2024-01-02.csv", []byte("ts,close\n")))

		report, err := Run(context.Background(), dir, Options{ResolveMode: datarefs.Strict, CacheDir: cache})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Resolution.Resolved)
	})
}

func TestRunRecordsMetrics(t *testing.T) {
	m := metrics.New()
	_, err := Run(context.Background(), buildBundle(t, nil), Options{Metrics: m})
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.ComparesTotal.WithLabelValues("0")))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.EventsTotal.WithLabelValues(string(ledger.Applied))))
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitPass},
		{faults.Schema(faults.CodeManifestSchema, "x"), ExitContract},
		{faults.Determinism(faults.CodeFloatDetected, "x"), ExitContract},
		{faults.HashMismatch(faults.CodeContentHashMismatch, "x"), ExitHashMismatch},
		{faults.ReplayMismatch(faults.CodeFillsMismatch, "x"), ExitReplayMismatch},
		{faults.LedgerInvariant(faults.CodeDoubleEntry, "x"), ExitReplayMismatch},
		{faults.MissingDataRef("x"), ExitMissingDataRef},
		{faults.DataRefHash("x"), ExitMissingDataRef},
		{errors.New("disk on fire"), ExitInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCodeFor(tt.err), "%v", tt.err)
	}
}

func TestDiffPositions(t *testing.T) {
	pos := func(sym, qty string) canonical.Object {
		return canonical.Object{"symbol": canonical.String(sym), "quantity": canonical.String(qty)}
	}
	expected := canonical.Object{
		"method":    canonical.String("wac"),
		"positions": canonical.Array{pos("AAPL", "1"), pos("MSFT", "2")},
	}
	actual := canonical.Object{
		"method":    canonical.String("fifo"),
		"positions": canonical.Array{pos("AAPL", "1"), pos("NVDA", "3")},
	}

	diffs := DiffPositions(expected, actual)
	require.Len(t, diffs, 5)
	assert.Equal(t, Diff{Kind: "position", Key: "*", Field: "method", Expected: "wac", Actual: "fifo"}, diffs[0])
	assert.Equal(t, "MSFT", diffs[1].Key)
	assert.Equal(t, absent, diffs[1].Actual)
	assert.Equal(t, "NVDA", diffs[3].Key)
	assert.Equal(t, absent, diffs[3].Expected)
}

func TestDiffFillsCountMismatch(t *testing.T) {
	fill := canonical.Object{"event_id": canonical.String("e1"), "price": canonical.String("1")}
	diffs := DiffFills([]canonical.Object{fill}, nil)
	require.Len(t, diffs, 3)
	assert.Equal(t, "count", diffs[0].Field)
	assert.Equal(t, "e1", diffs[1].Key)
}
