// Package fixed holds the fixed-point helpers shared by the pricing, tracking
// and profit code. Raw on-chain integers stay in math/big; anything expressed
// in the common unit of account is converted to shopspring/decimal.
package fixed

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// BPS is the basis-point denominator.
const BPS = 10_000

var (
	// WAD is 1e18, the scale of health factors.
	WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	bpsDenom = big.NewInt(BPS)

	pow10Mu    sync.RWMutex
	pow10Cache = map[uint8]*big.Int{}
)

// Pow10 returns 10^n. The returned value must not be mutated.
func Pow10(n uint8) *big.Int {
	pow10Mu.RLock()
	v, ok := pow10Cache[n]
	pow10Mu.RUnlock()
	if ok {
		return v
	}
	v = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	pow10Mu.Lock()
	pow10Cache[n] = v
	pow10Mu.Unlock()
	return v
}

// MulBps returns x * bps / 10000, truncated toward zero.
func MulBps(x *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(x, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsDenom)
}

// ToDecimal interprets raw as a fixed-point number with the given decimals.
func ToDecimal(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// FromDecimal converts d into a fixed-point integer with the given decimals,
// truncating any further precision.
func FromDecimal(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).BigInt()
}

// FromFloat converts a float price into a fixed-point integer.
func FromFloat(f float64, decimals uint8) *big.Int {
	return FromDecimal(decimal.NewFromFloat(f), decimals)
}

// Value converts a raw token amount into the unit of account using a price
// scaled by priceDecimals.
func Value(amount *big.Int, amountDecimals uint8, price *big.Int, priceDecimals uint8) decimal.Decimal {
	if amount == nil || price == nil {
		return decimal.Zero
	}
	product := new(big.Int).Mul(amount, price)
	return decimal.NewFromBigInt(product, -int32(amountDecimals)-int32(priceDecimals))
}

// WadToDecimal renders a WAD-scaled ratio such as a health factor.
func WadToDecimal(w *big.Int) decimal.Decimal {
	return ToDecimal(w, 18)
}

// RatioWad converts a decimal ratio (e.g. 0.95) into WAD scale.
func RatioWad(ratio float64) *big.Int {
	return FromFloat(ratio, 18)
}
