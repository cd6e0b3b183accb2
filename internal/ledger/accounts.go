package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Account key prefixes.
const (
	PrefixCash          = "CASH"
	PrefixInventoryCost = "INVENTORY_COST"
	PrefixFeesExpense   = "FEES_EXPENSE"
	PrefixRealizedPnL   = "REALIZED_PNL"
	PrefixEquityOpening = "EQUITY_OPENING"
)

// CashAccount returns CASH:<CCY>.
func CashAccount(ccy string) string { return PrefixCash + ":" + ccy }

// InventoryAccount returns INVENTORY_COST:<SYMBOL>:<CCY>.
func InventoryAccount(symbol, ccy string) string {
	return PrefixInventoryCost + ":" + symbol + ":" + ccy
}

// FeesAccount returns FEES_EXPENSE:<CCY>.
func FeesAccount(ccy string) string { return PrefixFeesExpense + ":" + ccy }

// RealizedAccount returns REALIZED_PNL:<CCY>.
func RealizedAccount(ccy string) string { return PrefixRealizedPnL + ":" + ccy }

// EquityOpeningAccount returns EQUITY_OPENING:<CCY>.
func EquityOpeningAccount(ccy string) string { return PrefixEquityOpening + ":" + ccy }

// Posting is one leg of a journal entry. Positive amounts are debits,
// negative amounts credits.
type Posting struct {
	Account string
	Amount  decimal.Decimal
}

// currencySuffix matches the part after the last '/' or '-' of a symbol,
// e.g. BTC/USD or ETH-USDT.
var currencySuffix = regexp.MustCompile(`[/-]([A-Z]{3,4})$`)

// stablecoins are quote assets accepted as a symbol suffix next to ISO 4217
// codes.
var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "TUSD": true, "DAI": true,
}

// isQuoteCurrency reports whether a symbol suffix names a settlement
// currency. Contract suffixes such as PERP or CALL and share classes do not.
func isQuoteCurrency(code string) bool {
	if stablecoins[code] {
		return true
	}
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// SymbolCurrency resolves the quote currency of symbol: an explicit
// SymbolCurrencies entry wins, then a BASE/QUOTE or BASE-QUOTE suffix that
// is a known currency, else the engine's quote currency.
func (c Config) SymbolCurrency(symbol string) string {
	if ccy, ok := c.SymbolCurrencies[symbol]; ok {
		return strings.ToUpper(ccy)
	}
	if m := currencySuffix.FindStringSubmatch(symbol); m != nil && isQuoteCurrency(m[1]) {
		return m[1]
	}
	return c.QuoteCurrency
}
