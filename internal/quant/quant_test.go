package quant

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/faults"
)

func TestQuantizeModes(t *testing.T) {
	eighth := decimal.New(1, -8)
	tests := []struct {
		name     string
		value    string
		rounding Rounding
		expected string
	}{
		{"half up rounds away", "0.123456785", RoundHalfUp, "0.12345679"},
		{"half up negative", "-0.123456785", RoundHalfUp, "-0.12345679"},
		{"half even keeps even", "0.123456785", RoundHalfEven, "0.12345678"},
		{"half even odd goes up", "0.123456775", RoundHalfEven, "0.12345678"},
		{"down truncates", "1.999999999", RoundDown, "1.99999999"},
		{"down negative toward zero", "-1.999999999", RoundDown, "-1.99999999"},
		{"up away from zero", "1.000000001", RoundUp, "1.00000001"},
		{"floor negative", "-1.000000001", RoundFloor, "-1.00000001"},
		{"ceiling negative", "-1.000000001", RoundCeiling, "-1"},
		{"exact value untouched", "42.5", RoundHalfUp, "42.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantize(MustDecimal(tt.value), eighth, tt.rounding)
			assert.True(t, MustDecimal(tt.expected).Equal(got), "got %s", got)
		})
	}
}

func TestQuantizeNonPowerOfTenQuantum(t *testing.T) {
	nickel := MustDecimal("0.05")

	assert.True(t, MustDecimal("1.05").Equal(Quantize(MustDecimal("1.03"), nickel, RoundHalfUp)))
	assert.True(t, MustDecimal("1.05").Equal(Quantize(MustDecimal("1.025"), nickel, RoundHalfUp)))
	assert.True(t, MustDecimal("1.00").Equal(Quantize(MustDecimal("1.025"), nickel, RoundHalfEven)))
	assert.Equal(t, "1.05", Format(Quantize(MustDecimal("1.03"), nickel, RoundHalfUp), nickel))
}

func TestPolicyFormat(t *testing.T) {
	p := Default()

	assert.Equal(t, "799.00000000", p.FormatMoney(MustDecimal("799")))
	assert.Equal(t, "-10.00000000", p.FormatMoney(MustDecimal("-10")))
	assert.Equal(t, "0.33333333", p.FormatPrice(MustDecimal("1").Div(MustDecimal("3"))))
	assert.Equal(t, "2.50000000", p.FormatQty(MustDecimal("2.5")))
	assert.Equal(t, "0.00000000", p.FormatMoney(decimal.Zero))
}

func TestPolicyQuantumWithTrailingZeros(t *testing.T) {
	p, err := NewPolicy("0.010", "0.01", "0.01", RoundHalfUp)
	require.NoError(t, err)

	assert.Equal(t, "1.240", p.FormatQty(MustDecimal("1.235")))
	assert.Equal(t, "1.240", Format(MustDecimal("1.24"), MustDecimal("0.010")))
}

func TestNewPolicyValidation(t *testing.T) {
	tests := []struct {
		name     string
		qty      string
		rounding Rounding
	}{
		{"unknown rounding", "0.01", Rounding("BANKERS")},
		{"zero quantum", "0", RoundHalfUp},
		{"negative quantum", "-0.01", RoundHalfUp},
		{"exponent quantum", "1e-8", RoundHalfUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.qty, "0.01", "0.01", tt.rounding)
			require.Error(t, err)
			assert.True(t, faults.IsSchema(err))
		})
	}
}

func TestPolicyIdentity(t *testing.T) {
	assert.Equal(t,
		"quantity=0.00000001;price=0.00000001;money=0.00000001;rounding=ROUND_HALF_UP",
		Default().ID())

	p, err := NewPolicy("0.00000001", "0.00000001", "0.00000001", RoundHalfUp)
	require.NoError(t, err)
	assert.True(t, p.Equal(Default()))

	even, err := NewPolicy("0.00000001", "0.00000001", "0.00000001", RoundHalfEven)
	require.NoError(t, err)
	assert.False(t, even.Equal(Default()))
	assert.NotEqual(t, Default().ID(), even.ID())

	obj := Default().Object()
	s, ok := obj.Str("rounding")
	assert.True(t, ok)
	assert.Equal(t, "ROUND_HALF_UP", s)
}

func TestParseDecimal(t *testing.T) {
	for _, ok := range []string{"0", "-0.5", "100", "0.00000001", "123456789012345678901234567890.5"} {
		_, err := ParseDecimal(ok)
		assert.NoError(t, err, ok)
	}

	for _, bad := range []string{"", "1e5", "+1", " 1", "NaN", "Infinity", "1.", ".5", "1,5", "0x10"} {
		_, err := ParseDecimal(bad)
		require.Error(t, err, bad)
		assert.Equal(t, faults.CodeInvalidValue, faults.CodeOf(err), bad)
	}
}
