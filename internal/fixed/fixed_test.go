package fixed

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPow10(t *testing.T) {
	assert.Equal(t, "1", Pow10(0).String())
	assert.Equal(t, "1000000", Pow10(6).String())
	assert.Equal(t, WAD.String(), Pow10(18).String())
}

func TestMulBps(t *testing.T) {
	assert.Equal(t, "9500", MulBps(big.NewInt(10_000), 9500).String())
	assert.Equal(t, "1", MulBps(big.NewInt(3), 5000).String())
}

func TestValue(t *testing.T) {
	// 1000 USDC (6 decimals) at $1.00 (8 decimals)
	amount := big.NewInt(1_000_000_000)
	price := big.NewInt(100_000_000)
	v := Value(amount, 6, price, 8)
	assert.True(t, v.Equal(decimal.NewFromInt(1000)), v.String())

	assert.True(t, Value(nil, 6, price, 8).IsZero())
}

func TestFromFloatRoundTrip(t *testing.T) {
	raw := FromFloat(2000.5, 8)
	require.Equal(t, "200050000000", raw.String())
	assert.True(t, ToDecimal(raw, 8).Equal(decimal.RequireFromString("2000.5")))
}

func TestRatioWad(t *testing.T) {
	assert.Equal(t, "950000000000000000", RatioWad(0.95).String())
	assert.True(t, WadToDecimal(RatioWad(1.0)).Equal(decimal.NewFromInt(1)))
}
