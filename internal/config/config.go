// Package config loads ledgerpack settings from defaults, a YAML file, a
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgerpack/internal/contract"
	"github.com/roach88/ledgerpack/internal/datarefs"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/ledger"
	"github.com/roach88/ledgerpack/internal/quant"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGERPACK_"

// Config is the complete tool configuration.
type Config struct {
	QuoteCurrency    string            `yaml:"quote_currency"`
	Method           string            `yaml:"method"`
	Quantization     Quantization      `yaml:"quantization"`
	ContractVersion  int               `yaml:"contract_version"`
	SymbolCurrencies map[string]string `yaml:"symbol_currencies,omitempty"`
	MarketData       MarketData        `yaml:"market_data"`
	Sink             Sink              `yaml:"sink"`
	StorePath        string            `yaml:"store_path"`
}

// Quantization holds the policy quanta as decimal strings.
type Quantization struct {
	Quantity string `yaml:"quantity"`
	Price    string `yaml:"price"`
	Money    string `yaml:"money"`
	Rounding string `yaml:"rounding"`
}

// MarketData configures data-ref resolution.
type MarketData struct {
	CacheDir    string `yaml:"cache_dir"`
	ResolveMode string `yaml:"resolve_mode"`
}

// Sink configures artifact writes.
type Sink struct {
	RetryAttempts int `yaml:"retry_attempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	q := quant.DefaultQuantum.String()
	return Config{
		QuoteCurrency: "USD",
		Method:        string(ledger.MethodWAC),
		Quantization: Quantization{
			Quantity: q,
			Price:    q,
			Money:    q,
			Rounding: string(quant.RoundHalfUp),
		},
		ContractVersion: contract.V1,
		MarketData: MarketData{
			CacheDir:    ".ledgerpack/cache",
			ResolveMode: string(datarefs.BestEffort),
		},
		Sink:      Sink{RetryAttempts: 3},
		StorePath: "ledgerpack.db",
	}
}

// Loader reads configuration layers. Zero fields skip their layer.
type Loader struct {
	File    string // YAML file
	EnvFile string // dotenv file

	// LookupEnv reads the process environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load applies defaults < YAML < .env < environment and validates the
// result. The .env file never modifies the process environment.
func (l Loader) Load() (Config, error) {
	cfg := Default()

	if l.File != "" {
		data, err := os.ReadFile(l.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, faults.Schema(faults.CodeInvalidValue, "parse config %s: %v", l.File, err)
		}
	}

	if l.EnvFile != "" {
		vars, err := godotenv.Read(l.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read env file: %w", err)
		}
		if err := cfg.applyEnv(func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		}); err != nil {
			return Config{}, err
		}
	}

	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays LEDGERPACK_* variables found by lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"QUOTE_CURRENCY": &c.QuoteCurrency,
		"METHOD":         &c.Method,
		"QTY_QUANTUM":    &c.Quantization.Quantity,
		"PRICE_QUANTUM":  &c.Quantization.Price,
		"MONEY_QUANTUM":  &c.Quantization.Money,
		"ROUNDING":       &c.Quantization.Rounding,
		"CACHE_DIR":      &c.MarketData.CacheDir,
		"RESOLVE_MODE":   &c.MarketData.ResolveMode,
		"STORE":          &c.StorePath,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CONTRACT_VERSION": &c.ContractVersion,
		"SINK_RETRIES":     &c.Sink.RetryAttempts,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return faults.Schema(faults.CodeInvalidValue, "%s%s must be an integer, got %q", EnvPrefix, key, v)
		}
		*dst = n
	}
	return nil
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate checks every field and reports the first problem.
func (c *Config) Validate() error {
	c.QuoteCurrency = strings.ToUpper(strings.TrimSpace(c.QuoteCurrency))
	if !currencyPattern.MatchString(c.QuoteCurrency) {
		return invalid("quote_currency", "must be a 3-letter currency code, got %q", c.QuoteCurrency)
	}
	switch ledger.Method(c.Method) {
	case ledger.MethodWAC, ledger.MethodFIFO:
	default:
		return invalid("method", "must be wac or fifo, got %q", c.Method)
	}
	if _, err := c.Policy(); err != nil {
		return invalid("quantization", "%v", err)
	}
	if c.ContractVersion != contract.V1 && c.ContractVersion != contract.V2 {
		return invalid("contract_version", "must be 1 or 2, got %d", c.ContractVersion)
	}
	if _, err := datarefs.ParseMode(c.MarketData.ResolveMode); err != nil {
		return invalid("market_data.resolve_mode", "%v", err)
	}
	if c.Sink.RetryAttempts < 1 {
		return invalid("sink.retry_attempts", "must be at least 1, got %d", c.Sink.RetryAttempts)
	}
	for sym, ccy := range c.SymbolCurrencies {
		if !currencyPattern.MatchString(strings.ToUpper(ccy)) {
			return invalid("symbol_currencies."+sym, "must be a 3-letter currency code, got %q", ccy)
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return faults.Schema(faults.CodeInvalidValue, "config "+field+": "+format, args...).WithPath(field)
}

// Policy builds the quantization policy.
func (c *Config) Policy() (quant.Policy, error) {
	q := c.Quantization
	return quant.NewPolicy(q.Quantity, q.Price, q.Money, quant.Rounding(strings.ToUpper(q.Rounding)))
}

// Ledger builds the engine configuration.
func (c *Config) Ledger() (ledger.Config, error) {
	pol, err := c.Policy()
	if err != nil {
		return ledger.Config{}, err
	}
	return ledger.Config{
		QuoteCurrency:    c.QuoteCurrency,
		Policy:           pol,
		Method:           ledger.Method(c.Method),
		SymbolCurrencies: c.SymbolCurrencies,
	}, nil
}

// ResolveMode returns the parsed resolution mode.
func (c *Config) ResolveMode() datarefs.Mode {
	return datarefs.Mode(c.MarketData.ResolveMode)
}
