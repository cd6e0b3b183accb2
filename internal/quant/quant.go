// Package quant implements the fixed-point quantization policy applied to
// every quantity, price and money value in the ledger.
//
// Results of multiply, divide and sum operations are quantized immediately,
// so two runs over the same inputs produce the same digits. The policy is
// immutable once constructed; changing it mid-run would invalidate every
// hash computed so far.
package quant

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
)

// Rounding names a rounding mode. The string values match the identifiers
// recorded in bundles.
type Rounding string

const (
	RoundHalfUp   Rounding = "ROUND_HALF_UP" // half away from zero
	RoundHalfEven Rounding = "ROUND_HALF_EVEN"
	RoundDown     Rounding = "ROUND_DOWN" // toward zero
	RoundUp       Rounding = "ROUND_UP"   // away from zero
	RoundFloor    Rounding = "ROUND_FLOOR"
	RoundCeiling  Rounding = "ROUND_CEILING"
)

// ValidRoundings lists the accepted rounding modes.
var ValidRoundings = map[Rounding]bool{
	RoundHalfUp:   true,
	RoundHalfEven: true,
	RoundDown:     true,
	RoundUp:       true,
	RoundFloor:    true,
	RoundCeiling:  true,
}

// DefaultQuantum is 10^-8.
var DefaultQuantum = decimal.New(1, -8)

// Policy holds the three quanta and the rounding mode.
type Policy struct {
	quantity decimal.Decimal
	price    decimal.Decimal
	money    decimal.Decimal
	rounding Rounding
}

// Default returns the 8-digit, half-up policy.
func Default() Policy {
	return Policy{
		quantity: DefaultQuantum,
		price:    DefaultQuantum,
		money:    DefaultQuantum,
		rounding: RoundHalfUp,
	}
}

// NewPolicy validates and constructs a policy from decimal strings.
func NewPolicy(quantity, price, money string, rounding Rounding) (Policy, error) {
	if !ValidRoundings[rounding] {
		return Policy{}, faults.Schema(faults.CodeInvalidValue, "unknown rounding mode %q", rounding)
	}

	parse := func(name, s string) (decimal.Decimal, error) {
		d, err := ParseDecimal(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%s quantum: %w", name, err)
		}
		if !d.IsPositive() {
			return decimal.Decimal{}, faults.Schema(faults.CodeInvalidValue, "%s quantum must be positive, got %s", name, s)
		}
		return d, nil
	}

	q, err := parse("quantity", quantity)
	if err != nil {
		return Policy{}, err
	}
	p, err := parse("price", price)
	if err != nil {
		return Policy{}, err
	}
	m, err := parse("money", money)
	if err != nil {
		return Policy{}, err
	}

	return Policy{quantity: q, price: p, money: m, rounding: rounding}, nil
}

// IsZero reports whether p is the zero value rather than a constructed policy.
func (p Policy) IsZero() bool { return p.rounding == "" }

// Rounding returns the policy's rounding mode.
func (p Policy) Rounding() Rounding { return p.rounding }

// Qty quantizes a quantity.
func (p Policy) Qty(d decimal.Decimal) decimal.Decimal {
	return Quantize(d, p.quantity, p.rounding)
}

// Price quantizes a price.
func (p Policy) Price(d decimal.Decimal) decimal.Decimal {
	return Quantize(d, p.price, p.rounding)
}

// Money quantizes a money amount.
func (p Policy) Money(d decimal.Decimal) decimal.Decimal {
	return Quantize(d, p.money, p.rounding)
}

// FormatQty renders a quantity at the quantity scale.
func (p Policy) FormatQty(d decimal.Decimal) string {
	return Format(p.Qty(d), p.quantity)
}

// FormatPrice renders a price at the price scale.
func (p Policy) FormatPrice(d decimal.Decimal) string {
	return Format(p.Price(d), p.price)
}

// FormatMoney renders a money amount at the money scale.
func (p Policy) FormatMoney(d decimal.Decimal) string {
	return Format(p.Money(d), p.money)
}

// ID is a stable identifier for the policy, recorded into artifacts so a
// policy change between build and replay is visible.
func (p Policy) ID() string {
	return fmt.Sprintf("quantity=%s;price=%s;money=%s;rounding=%s",
		p.quantity.String(), p.price.String(), p.money.String(), p.rounding)
}

// Object returns the canonical form of the policy.
func (p Policy) Object() canonical.Object {
	return canonical.Object{
		"money_quantum":    canonical.String(p.money.String()),
		"price_quantum":    canonical.String(p.price.String()),
		"quantity_quantum": canonical.String(p.quantity.String()),
		"rounding":         canonical.String(string(p.rounding)),
	}
}

// Equal reports whether two policies are identical.
func (p Policy) Equal(o Policy) bool {
	return p.quantity.Equal(o.quantity) &&
		p.price.Equal(o.price) &&
		p.money.Equal(o.money) &&
		p.rounding == o.rounding
}

// Quantize rounds value to a multiple of quantum using the given mode.
func Quantize(value, quantum decimal.Decimal, rounding Rounding) decimal.Decimal {
	if places, ok := pow10Places(quantum); ok {
		return roundPlaces(value, places, rounding)
	}
	steps := value.DivRound(quantum, 32)
	return roundPlaces(steps, 0, rounding).Mul(quantum)
}

func roundPlaces(d decimal.Decimal, places int32, rounding Rounding) decimal.Decimal {
	switch rounding {
	case RoundHalfEven:
		return d.RoundBank(places)
	case RoundDown:
		return d.RoundDown(places)
	case RoundUp:
		return d.RoundUp(places)
	case RoundFloor:
		return d.RoundFloor(places)
	case RoundCeiling:
		return d.RoundCeil(places)
	default:
		return d.Round(places)
	}
}

var ten = big.NewInt(10)

// pow10Places reports whether quantum is 10^-places.
func pow10Places(quantum decimal.Decimal) (int32, bool) {
	coef := new(big.Int).Set(quantum.Coefficient())
	exp := quantum.Exponent()
	if coef.Sign() <= 0 {
		return 0, false
	}
	mod := new(big.Int)
	for {
		q, r := new(big.Int).QuoRem(coef, ten, mod)
		if r.Sign() != 0 {
			break
		}
		coef = q
		exp++
	}
	if coef.Cmp(big.NewInt(1)) != 0 {
		return 0, false
	}
	return -exp, true
}

// Format renders d with exactly as many fractional digits as quantum is
// written with, so a quantum of 0.010 renders three.
func Format(d, quantum decimal.Decimal) string {
	places := int32(0)
	if quantum.Exponent() < 0 {
		places = -quantum.Exponent()
	}
	return d.StringFixed(places)
}

var decimalPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ParseDecimal parses a plain decimal string. Exponents, NaN, infinities,
// leading '+' and surrounding whitespace are rejected.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return decimal.Decimal{}, faults.Schema(faults.CodeInvalidValue, "not a plain decimal string: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, faults.Schema(faults.CodeInvalidValue, "invalid decimal %q: %v", s, err)
	}
	return d, nil
}

// MustDecimal parses s or panics. Use only in tests and for literals.
func MustDecimal(s string) decimal.Decimal {
	d, err := ParseDecimal(strings.TrimSpace(s))
	if err != nil {
		panic(err)
	}
	return d
}
