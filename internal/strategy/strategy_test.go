package strategy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/profit"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	wbtc = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
)

func est(user byte, priority float64) domain.ProfitEstimate {
	return domain.ProfitEstimate{
		Position:        domain.Position{User: common.BytesToAddress([]byte{user})},
		DebtAsset:       usdc,
		CollateralAsset: weth,
		Priority:        priority,
		Profitable:      priority > 0,
	}
}

func users(es []domain.ProfitEstimate) []byte {
	out := make([]byte, len(es))
	for i, e := range es {
		out[i] = e.Position.User[19]
	}
	return out
}

func TestRankDescendingAndStable(t *testing.T) {
	in := []domain.ProfitEstimate{est(1, 2), est(2, 5), est(3, 2), est(4, 0), est(5, 5)}
	got := Rank(in, nil)
	assert.Equal(t, []byte{2, 5, 1, 3, 4}, users(got))

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Priority, got[i].Priority)
	}
	// input untouched
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, users(in))
}

func TestBoostAppliedBeforeSort(t *testing.T) {
	a := est(1, 3)
	b := est(2, 2)
	b.Position.EMode = domain.EModeStablecoins

	got := Rank([]domain.ProfitEstimate{a, b}, EMode{Multiplier: 2}.Boost(profit.Snapshot{}))
	assert.Equal(t, []byte{2, 1}, users(got))
	assert.Equal(t, 4.0, got[0].Priority)
}

func TestEModeUnknownCategoryBoosted(t *testing.T) {
	e := est(1, 1)
	e.Position.EMode = domain.EModeFromID(9)
	got := EMode{}.Boost(profit.Snapshot{})(e)
	assert.InDelta(t, 1.2, got.Priority, 1e-9)

	plain := EMode{}.Boost(profit.Snapshot{})(est(2, 1))
	assert.Equal(t, 1.0, plain.Priority)
}

func snapWithDiscrepancy(debt, coll string) profit.Snapshot {
	q := map[common.Address]domain.PriceQuote{}
	if debt != "" {
		q[usdc] = domain.PriceQuote{Asset: usdc, DiscrepancyPct: decimal.NewNullDecimal(decimal.RequireFromString(debt))}
	}
	if coll != "" {
		q[weth] = domain.PriceQuote{Asset: weth, DiscrepancyPct: decimal.NewNullDecimal(decimal.RequireFromString(coll))}
	}
	return profit.Snapshot{Quotes: q}
}

func TestOracleDiscrepancyBoost(t *testing.T) {
	policy := OracleDiscrepancy{Threshold: decimal.NewFromInt(2)}

	tests := []struct {
		name string
		snap profit.Snapshot
		want float64
	}{
		{"no quotes", profit.Snapshot{}, 10},
		{"below threshold", snapWithDiscrepancy("1", "1.5"), 10},
		{"collateral leg above", snapWithDiscrepancy("1", "4"), 10 * 1.05},
		{"both legs above", snapWithDiscrepancy("3", "7"), 10 * 1.10},
		{"debt leg only", snapWithDiscrepancy("5", ""), 10 * 1.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Boost(tt.snap)(est(1, 10))
			assert.InDelta(t, tt.want, got.Priority, 1e-9)
		})
	}
}

func TestRegistryChainsActivePolicies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := NewRegistry(logger, Baseline{}, OracleDiscrepancy{Threshold: decimal.NewFromInt(2)}, EMode{Multiplier: 1.5})

	err := reg.SetActive("baseline", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	require.NoError(t, reg.SetActive(NameOracleDiscrepancy, NameEMode))
	assert.Equal(t, []string{"oracle_discrepancy", "emode"}, reg.Active())

	a := est(1, 10)
	b := est(2, 10)
	b.Position.EMode = domain.EModeETHCorrelated
	c := est(3, 10)
	c.CollateralAsset = wbtc

	ranked := reg.Rank([]domain.ProfitEstimate{c, a, b}, snapWithDiscrepancy("0", "10"))
	assert.Equal(t, []byte{2, 1, 3}, users(ranked))
	assert.InDelta(t, 10*1.1*1.5, ranked[0].Priority, 1e-9)

	infos := reg.ListInfo()
	require.Len(t, infos, 3)
	assert.Equal(t, PolicyInfo{Name: "baseline", Active: false}, infos[0])
}

func TestProfitableFilter(t *testing.T) {
	got := Profitable([]domain.ProfitEstimate{est(1, 0), est(2, 3)})
	assert.Equal(t, []byte{2}, users(got))
}
