package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/datarefs"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/quant"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Loader{LookupEnv: env(nil)}.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	lc, err := cfg.Ledger()
	require.NoError(t, err)
	assert.Equal(t, "USD", lc.QuoteCurrency)
	assert.Equal(t, ledger.MethodWAC, lc.Method)
	assert.Equal(t, quant.Default().ID(), lc.Policy.ID())
}

func TestLayering(t *testing.T) {
	yamlPath := writeFile(t, "ledgerpack.yaml", `
quote_currency: eur
method: fifo
quantization:
  quantity: "0.0001"
  price: "0.01"
  money: "0.01"
  rounding: round_half_even
contract_version: 2
market_data:
  cache_dir: /data/cache
sink:
  retry_attempts: 5
`)
	envPath := writeFile(t, ".env", "LEDGERPACK_CACHE_DIR=/env-file/cache\nLEDGERPACK_SINK_RETRIES=7\n")

	cfg, err := Loader{
		File:      yamlPath,
		EnvFile:   envPath,
		LookupEnv: env(map[string]string{"LEDGERPACK_SINK_RETRIES": "9"}),
	}.Load()
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.QuoteCurrency)
	assert.Equal(t, "fifo", cfg.Method)
	assert.Equal(t, 2, cfg.ContractVersion)
	assert.Equal(t, "/env-file/cache", cfg.MarketData.CacheDir, ".env beats YAML")
	assert.Equal(t, 9, cfg.Sink.RetryAttempts, "environment beats .env")
	assert.Equal(t, datarefs.BestEffort, cfg.ResolveMode(), "default survives")

	pol, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, quant.RoundHalfEven, pol.Rounding())
	assert.Equal(t, "1.22", pol.FormatPrice(quant.MustDecimal("1.225")))
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Loader{EnvFile: filepath.Join(t.TempDir(), ".env"), LookupEnv: env(nil)}.Load()
	assert.NoError(t, err)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := Loader{File: filepath.Join(t.TempDir(), "nope.yaml"), LookupEnv: env(nil)}.Load()
	assert.Error(t, err)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		vars  map[string]string
		field string
	}{
		{"currency", map[string]string{"LEDGERPACK_QUOTE_CURRENCY": "dollars"}, "quote_currency"},
		{"method", map[string]string{"LEDGERPACK_METHOD": "lifo"}, "method"},
		{"rounding", map[string]string{"LEDGERPACK_ROUNDING": "ROUND_RANDOM"}, "quantization"},
		{"quantum", map[string]string{"LEDGERPACK_MONEY_QUANTUM": "0"}, "quantization"},
		{"contract", map[string]string{"LEDGERPACK_CONTRACT_VERSION": "3"}, "contract_version"},
		{"mode", map[string]string{"LEDGERPACK_RESOLVE_MODE": "lazy"}, "market_data.resolve_mode"},
		{"retries", map[string]string{"LEDGERPACK_SINK_RETRIES": "0"}, "sink.retry_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Loader{LookupEnv: env(tt.vars)}.Load()
			require.Error(t, err)
			assert.True(t, faults.IsSchema(err))
			fe, ok := faults.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, fe.Path)
		})
	}
}

func TestNonIntegerEnv(t *testing.T) {
	_, err := Loader{LookupEnv: env(map[string]string{"LEDGERPACK_CONTRACT_VERSION": "two"})}.Load()
	assert.Equal(t, faults.CodeInvalidValue, faults.CodeOf(err))
}

func TestBadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "quote_currency: [unclosed\n")
	_, err := Loader{File: path, LookupEnv: env(nil)}.Load()
	assert.True(t, faults.IsSchema(err))
}
