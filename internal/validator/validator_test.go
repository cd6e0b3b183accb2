package validator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/builder"
	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/testutil"
)

func buildBundle(t *testing.T, version int, mutate func(*builder.Options)) string {
	t.Helper()

	f := testutil.NewEventFactory("run-1")
	events := []canonical.Object{
		f.Fill("AAPL", "BUY", "2", "100", "1.00"),
		f.Fill("AAPL", "BUY", "1", "110", "1.00"),
		f.Fill("AAPL", "SELL", "2.5", "120", "1.00"),
	}

	dir := filepath.Join(t.TempDir(), "bundle")
	opts := builder.Options{
		OutDir:          dir,
		ContractVersion: version,
		Ledger:          ledger.Config{QuoteCurrency: "USD"},
		IncludeOutputs:  true,
		CreatedAtUTC:    "2024-01-01T00:00:00Z",
	}
	if mutate != nil {
		mutate(&opts)
	}
	_, err := builder.Build(context.Background(), builder.StaticSource(events), opts)
	require.NoError(t, err)
	return dir
}

func writeRel(t *testing.T, dir, rel string, data []byte) {
	t.Helper()
	require.NoError(t, contract.WriteFile(dir, rel, data))
}

func TestValidateFreshBundle(t *testing.T) {
	for _, version := range []int{contract.V1, contract.V2} {
		dir := buildBundle(t, version, nil)

		report, err := Validate(dir)
		require.NoError(t, err, "version %d", version)
		assert.Equal(t, "run-1", report.RunID)
		assert.Equal(t, version, report.ContractVersion)
		assert.Contains(t, report.Files, contract.PathEvents)
		assert.Equal(t, CheckLedgerFiles, report.Checks[len(report.Checks)-1])
	}
}

func TestValidateMissingRequiredFile(t *testing.T) {
	for _, rel := range contract.RequiredPaths {
		t.Run(rel, func(t *testing.T) {
			dir := buildBundle(t, contract.V1, nil)
			require.NoError(t, os.Remove(filepath.Join(dir, filepath.FromSlash(rel))))

			_, err := Validate(dir)
			require.Error(t, err)
			assert.Equal(t, faults.CodeMissingRequiredFile, faults.CodeOf(err))
		})
	}

	_, err := Validate(filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, faults.CodeMissingRequiredFile, faults.CodeOf(err))
}

func TestValidateDetectsTampering(t *testing.T) {
	targets := []string{contract.PathEvents, contract.PathExpectedFills, contract.PathExpectedPosition}

	for _, rel := range targets {
		t.Run(rel, func(t *testing.T) {
			dir := buildBundle(t, contract.V1, nil)
			data := testutil.ReadBundleFile(t, dir, rel)

			// Flip one byte in place, keeping the size.
			i := strings.Index(string(data), "1")
			require.GreaterOrEqual(t, i, 0)
			data[i] = '2'
			writeRel(t, dir, rel, data)

			report, err := Validate(dir)
			require.Error(t, err)
			assert.True(t, faults.IsHashMismatch(err), err.Error())
			assert.Equal(t, faults.CodeContentHashMismatch, faults.CodeOf(err))
			assert.NotContains(t, report.Checks, CheckContents)
		})
	}
}

func TestValidateSizeMismatch(t *testing.T) {
	dir := buildBundle(t, contract.V1, nil)
	data := testutil.ReadBundleFile(t, dir, contract.PathEvents)
	writeRel(t, dir, contract.PathEvents, append(data, data[len(data)-2:]...))

	_, err := Validate(dir)
	assert.Equal(t, faults.CodeContentSizeMismatch, faults.CodeOf(err))
}

func TestValidateFloatWithConsistentHashes(t *testing.T) {
	dir := buildBundle(t, contract.V1, nil)

	data := testutil.ReadBundleFile(t, dir, contract.PathEvents)
	tampered := strings.Replace(string(data), `"ts_sim":1}`, `"ts_sim":1.0}`, 1)
	require.NotEqual(t, string(data), tampered)
	writeRel(t, dir, contract.PathEvents, []byte(tampered))
	testutil.ResealBundle(t, dir)

	_, err := Validate(dir)
	require.Error(t, err)
	assert.True(t, faults.IsDeterminism(err), err.Error())
	assert.Equal(t, faults.CodeFloatDetected, faults.CodeOf(err))
}

func TestValidateFloatInOptionalDocument(t *testing.T) {
	dir := buildBundle(t, contract.V1, nil)
	writeRel(t, dir, contract.PathConfigSnapshot, []byte("{\"threshold\":0.5}\n"))
	testutil.ResealBundle(t, dir)

	_, err := Validate(dir)
	require.Error(t, err)
	assert.True(t, faults.IsDeterminism(err))
	fe, ok := faults.As(err)
	require.True(t, ok)
	assert.Equal(t, contract.PathConfigSnapshot, fe.Path)
}

func TestValidateCRLF(t *testing.T) {
	dir := buildBundle(t, contract.V1, nil)
	data := testutil.ReadBundleFile(t, dir, contract.PathExpectedFills)
	writeRel(t, dir, contract.PathExpectedFills, []byte(strings.ReplaceAll(string(data), "\n", "\r\n")))
	testutil.ResealBundle(t, dir)

	_, err := Validate(dir)
	require.Error(t, err)
	assert.Equal(t, faults.CodeCRLFDetected, faults.CodeOf(err))
}

func TestValidateNonCanonicalManifest(t *testing.T) {
	dir := buildBundle(t, contract.V1, nil)
	data := testutil.ReadBundleFile(t, dir, contract.PathManifest)
	writeRel(t, dir, contract.PathManifest, []byte(strings.Replace(string(data), ":", ": ", 1)))

	_, err := Validate(dir)
	require.Error(t, err)
	assert.Equal(t, faults.CodeManifestNotCanonical, faults.CodeOf(err))
}

func TestValidateSumsProblems(t *testing.T) {
	t.Run("extra file not covered", func(t *testing.T) {
		dir := buildBundle(t, contract.V1, nil)
		writeRel(t, dir, contract.PathCompareReport, []byte("{}\n"))

		_, err := Validate(dir)
		assert.Equal(t, faults.CodeSumsCoverage, faults.CodeOf(err))
	})

	t.Run("stale sum", func(t *testing.T) {
		dir := buildBundle(t, contract.V1, nil)
		writeRel(t, dir, contract.PathCompareReport, []byte("{}\n"))
		_, err := contract.WriteSums(dir)
		require.NoError(t, err)
		writeRel(t, dir, contract.PathCompareReport, []byte("{\"a\":1}\n"))

		_, err = Validate(dir)
		assert.True(t, faults.IsHashMismatch(err))
		assert.Equal(t, faults.CodeSumsHashMismatch, faults.CodeOf(err))
	})

	t.Run("unsorted", func(t *testing.T) {
		dir := buildBundle(t, contract.V1, nil)
		lines := strings.Split(strings.TrimSuffix(string(testutil.ReadBundleFile(t, dir, contract.PathSums)), "\n"), "\n")
		lines[0], lines[1] = lines[1], lines[0]
		writeRel(t, dir, contract.PathSums, []byte(strings.Join(lines, "\n")+"\n"))

		_, err := Validate(dir)
		assert.Equal(t, faults.CodeSumsNotSorted, faults.CodeOf(err))
	})

	t.Run("late report stays valid once sums are rederived", func(t *testing.T) {
		dir := buildBundle(t, contract.V1, nil)
		writeRel(t, dir, contract.PathCompareReport, []byte("{}\n"))
		_, err := contract.WriteSums(dir)
		require.NoError(t, err)

		_, err = Validate(dir)
		assert.NoError(t, err)
	})
}

func TestValidateUnlistedContentFile(t *testing.T) {
	dir := buildBundle(t, contract.V1, nil)
	writeRel(t, dir, "meta/extra.json", []byte("{}\n"))
	_, err := contract.WriteSums(dir)
	require.NoError(t, err)

	_, err = Validate(dir)
	assert.Equal(t, faults.CodeManifestSchema, faults.CodeOf(err))
}

func TestValidateEventOrdering(t *testing.T) {
	t.Run("seq gap", func(t *testing.T) {
		dir := buildBundle(t, contract.V1, nil)
		data := testutil.ReadBundleFile(t, dir, contract.PathEvents)
		writeRel(t, dir, contract.PathEvents, []byte(strings.Replace(string(data), `"seq":1,`, `"seq":5,`, 1)))
		testutil.ResealBundle(t, dir)

		_, err := Validate(dir)
		assert.Equal(t, faults.CodeSeqNotContiguous, faults.CodeOf(err))
	})

	t.Run("time goes backwards", func(t *testing.T) {
		dir := buildBundle(t, contract.V1, nil)
		data := testutil.ReadBundleFile(t, dir, contract.PathEvents)
		writeRel(t, dir, contract.PathEvents, []byte(strings.Replace(string(data),
			`"event_time_utc":"1970-01-01T00:00:03Z"`, `"event_time_utc":"1970-01-01T00:00:00Z"`, 1)))
		testutil.ResealBundle(t, dir)

		_, err := Validate(dir)
		assert.Equal(t, faults.CodeEventsNotSorted, faults.CodeOf(err))
	})
}

func TestValidateV2RequiresFIFOSnapshot(t *testing.T) {
	dir := buildBundle(t, contract.V2, nil)
	require.NoError(t, os.Remove(filepath.Join(dir, filepath.FromSlash(contract.PathFIFOSnapshot))))
	testutil.ResealBundle(t, dir)

	_, err := Validate(dir)
	require.Error(t, err)
	assert.Equal(t, faults.CodeFIFOLedgerMissing, faults.CodeOf(err))
}

func TestValidateManifestMissingConstantField(t *testing.T) {
	tests := []struct {
		name    string
		version int
		key     string
		field   string // empty drops the whole key
	}{
		{"has_fifo_ledger", contract.V2, "invariants", "has_fifo_ledger"},
		{"ordering", contract.V2, "invariants", "ordering"},
		{"canonicalization", contract.V2, "canonicalization", ""},
		{"canonicalization.jsonl", contract.V1, "canonicalization", "jsonl"},
		{"invariants", contract.V1, "invariants", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := buildBundle(t, tt.version, nil)

			obj, err := canonical.ParseObject(testutil.ReadBundleFile(t, dir, contract.PathManifest))
			require.NoError(t, err)
			if tt.field == "" {
				delete(obj, tt.key)
			} else {
				inner, ok := obj.ObjectAt(tt.key)
				require.True(t, ok)
				delete(inner, tt.field)
			}
			data, err := canonical.MarshalDocument(obj)
			require.NoError(t, err)
			writeRel(t, dir, contract.PathManifest, data)
			_, err = contract.WriteSums(dir)
			require.NoError(t, err)

			_, err = Validate(dir)
			require.Error(t, err)
			assert.True(t, faults.IsSchema(err))
			assert.Equal(t, faults.CodeManifestSchema, faults.CodeOf(err))
		})
	}
}

func TestValidateMarketDataRefs(t *testing.T) {
	withRefs := func(o *builder.Options) {
		o.MarketDataRefs = contract.MarketDataRefsObject([]contract.MarketDataRef{{
			RefID: "r1", Provider: "p", Dataset: "bars", Symbol: "AAPL",
			Start: "2024-01-01", End: "2024-01-02", Format: "csv",
		}})
	}

	dir := buildBundle(t, contract.V1, withRefs)
	_, err := Validate(dir)
	require.NoError(t, err)

	data := testutil.ReadBundleFile(t, dir, contract.PathMarketDataRefs)
	writeRel(t, dir, contract.PathMarketDataRefs, []byte(strings.Replace(string(data), "{", "{ ", 1)))
	testutil.ResealBundle(t, dir)
	_, err = Validate(dir)
	assert.Equal(t, faults.CodeDataRefsNotCanonical, faults.CodeOf(err))

	writeRel(t, dir, contract.PathMarketDataRefs, []byte(strings.Replace(string(data), `"csv"`, `"xlsx"`, 1)))
	testutil.ResealBundle(t, dir)
	_, err = Validate(dir)
	assert.Equal(t, faults.CodeDataRefsSchema, faults.CodeOf(err))
}

func TestReportObject(t *testing.T) {
	report, err := Validate(buildBundle(t, contract.V1, nil))
	require.NoError(t, err)

	_, err = canonical.MarshalDocument(report.Object())
	assert.NoError(t, err)
}
