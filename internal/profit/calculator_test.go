package profit

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

var (
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai      = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func units(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixed.Pow10(decimals))
}

func position(hf float64, wethBalance *big.Int) domain.Position {
	return domain.Position{
		User:         borrower,
		HealthFactor: fixed.RatioWad(hf),
		Collateral: []domain.AssetExposure{
			{Asset: weth, Symbol: "WETH", Amount: wethBalance, Decimals: 18, IsCollateral: true, LiquidationBonusBps: 10_500},
		},
		Debt: []domain.AssetExposure{
			{Asset: usdc, Symbol: "USDC", Amount: units(10_000, 6), Decimals: 6},
		},
	}
}

func snapshot(gasGwei int64) Snapshot {
	return Snapshot{
		Quotes: map[common.Address]domain.PriceQuote{
			weth: {Asset: weth, OraclePrice: units(2000, 8)},
			usdc: {Asset: usdc, OraclePrice: units(1, 8)},
		},
		GasPrice: new(big.Int).Mul(big.NewInt(gasGwei), big.NewInt(params.GWei)),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NativeAsset = weth
	cfg.GasLimitFlash = 500_000
	return cfg
}

func TestCollateralReceivableScenario(t *testing.T) {
	// debt price 2000, collateral price 1, 1000 units of a 6-decimal debt
	// asset, 18-decimal collateral, 10500 bps bonus
	got := CollateralReceivable(units(2000, 8), units(1000, 6), 6, units(1, 8), 18, 10_500)
	assert.Equal(t, units(2_100_000, 18).String(), got.String())
}

func TestCloseFactorSelection(t *testing.T) {
	calc := NewCalculator(testConfig())

	full, err := calc.Estimate(position(0.90, units(10, 18)), usdc, weth, snapshot(20))
	require.NoError(t, err)
	// 100% close factor, 95% safety margin
	assert.Equal(t, units(9_500, 6).String(), full.DebtToCover.String())

	half, err := calc.Estimate(position(0.98, units(10, 18)), usdc, weth, snapshot(20))
	require.NoError(t, err)
	assert.Equal(t, units(4_750, 6).String(), half.DebtToCover.String())

	assert.Equal(t, uint64(10_000), calc.CloseFactorBps(fixed.RatioWad(0.9499)))
	assert.Equal(t, uint64(5_000), calc.CloseFactorBps(fixed.RatioWad(0.95)))
}

func TestEstimateFlashLoan(t *testing.T) {
	calc := NewCalculator(testConfig())

	est, err := calc.Estimate(position(0.90, units(10, 18)), usdc, weth, snapshot(20))
	require.NoError(t, err)

	// 9500 USDC buys 9500 * 1.05 / 2000 = 4.9875 WETH
	assert.Equal(t, "4987500000000000000", est.CollateralReceivable.String())
	assert.Equal(t, "9500", est.DebtValueUSD.String())
	assert.Equal(t, "9975", est.CollateralValueUSD.String())
	assert.Equal(t, "475", est.GrossProfitUSD.String())
	assert.Equal(t, "4.75", est.FinancingCostUSD.String())
	// 20 gwei * 500k gas = 0.01 ETH
	assert.Equal(t, "20", est.GasCostUSD.String())
	assert.Equal(t, "450.25", est.NetProfitUSD.String())
	assert.True(t, est.Profitable)
	assert.InDelta(t, 4.7394, est.Priority, 0.0001)
	assert.Equal(t, domain.FinancingFlashLoan, est.Financing)
}

func TestEstimateDirectHasNoFinancingCost(t *testing.T) {
	cfg := testConfig()
	cfg.Financing = domain.FinancingDirect
	calc := NewCalculator(cfg)

	est, err := calc.Estimate(position(0.90, units(10, 18)), usdc, weth, snapshot(20))
	require.NoError(t, err)
	assert.True(t, est.FinancingCostUSD.IsZero())
	assert.Equal(t, domain.FinancingDirect, est.Financing)
}

func TestEstimateBelowFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfit = decimal.NewFromInt(1_000)
	calc := NewCalculator(cfg)

	est, err := calc.Estimate(position(0.90, units(10, 18)), usdc, weth, snapshot(20))
	require.NoError(t, err)
	assert.False(t, est.Profitable)
	assert.Zero(t, est.Priority)
}

func TestNetProfitMonotonicInCosts(t *testing.T) {
	pos := position(0.90, units(10, 18))

	calc := NewCalculator(testConfig())
	prev, err := calc.Estimate(pos, usdc, weth, snapshot(1))
	require.NoError(t, err)
	for _, gwei := range []int64{5, 20, 100, 1000} {
		est, err := calc.Estimate(pos, usdc, weth, snapshot(gwei))
		require.NoError(t, err)
		assert.True(t, est.NetProfitUSD.LessThan(prev.NetProfitUSD), "gas %d gwei", gwei)
		prev = est
	}

	cfg := testConfig()
	var last decimal.Decimal
	for i, premium := range []uint64{0, 5, 9, 50, 300} {
		cfg.FlashPremiumBps = premium
		est, err := NewCalculator(cfg).Estimate(pos, usdc, weth, snapshot(20))
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, est.NetProfitUSD.LessThan(last), "premium %d bps", premium)
		}
		last = est.NetProfitUSD
	}
}

func TestEstimateCapsAtCollateralBalance(t *testing.T) {
	calc := NewCalculator(testConfig())

	est, err := calc.Estimate(position(0.90, units(1, 18)), usdc, weth, snapshot(20))
	require.NoError(t, err)
	assert.Equal(t, units(1, 18).String(), est.CollateralReceivable.String())
	assert.True(t, est.DebtToCover.Cmp(units(9_500, 6)) < 0)
	assert.True(t, est.DebtToCover.Sign() > 0)
	// 1 WETH at the 5% bonus is worth 2000/1.05 of debt
	assert.Equal(t, "1904761904", est.DebtToCover.String())
}

func TestEstimateFallbackBonus(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := position(0.90, units(10, 18))
	pos.Collateral[0].LiquidationBonusBps = 0

	est, err := calc.Estimate(pos, usdc, weth, snapshot(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(10_500), est.LiquidationBonusBps)
}

func TestEstimateErrors(t *testing.T) {
	calc := NewCalculator(testConfig())

	_, err := calc.Estimate(position(1.01, units(10, 18)), usdc, weth, snapshot(20))
	assert.ErrorIs(t, err, domain.ErrNotLiquidatable)

	_, err = calc.Estimate(position(0.9, units(10, 18)), dai, weth, snapshot(20))
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	snap := snapshot(20)
	delete(snap.Quotes, usdc)
	_, err = calc.Estimate(position(0.9, units(10, 18)), usdc, weth, snap)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	snap = snapshot(20)
	snap.GasPrice = nil
	_, err = calc.Estimate(position(0.9, units(10, 18)), usdc, weth, snap)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestEstimateAllIsolatesPairs(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := position(0.9, units(10, 18))
	pos.Debt = append(pos.Debt, domain.AssetExposure{Asset: dai, Amount: units(100, 18), Decimals: 18})

	estimates, failed := calc.EstimateAll(pos, snapshot(20))
	require.Len(t, estimates, 1)
	require.Len(t, failed, 1)
	assert.Equal(t, dai, failed[0].DebtAsset)
	assert.True(t, errors.Is(failed[0].Err, domain.ErrDataUnavailable))
}
