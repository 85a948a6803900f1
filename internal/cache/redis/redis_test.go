package redis

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

func TestQuoteEncodingRoundTrip(t *testing.T) {
	asset := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	q := domain.PriceQuote{
		Asset:          asset,
		OraclePrice:    big.NewInt(200_000_000_000),
		ExternalPrice:  big.NewInt(190_000_000_000),
		ObservedAt:     time.Unix(1_700_000_000, 42),
		DiscrepancyPct: decimal.NewNullDecimal(decimal.RequireFromString("5.26")),
	}

	fields := encodeQuote(q)
	_, hasMarket := fields["market"]
	assert.False(t, hasMarket)

	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}
	got, err := decodeQuote(asset, vals)
	require.NoError(t, err)

	assert.Equal(t, 0, got.OraclePrice.Cmp(q.OraclePrice))
	assert.Equal(t, 0, got.ExternalPrice.Cmp(q.ExternalPrice))
	assert.Nil(t, got.MarketPrice)
	assert.True(t, got.ObservedAt.Equal(q.ObservedAt))
	require.True(t, got.DiscrepancyPct.Valid)
	assert.Equal(t, "5.26", got.DiscrepancyPct.Decimal.String())
}

func TestDecodeQuoteRejectsMissingOracle(t *testing.T) {
	_, err := decodeQuote(common.Address{}, map[string]string{"ts": "1"})
	assert.Error(t, err)
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "liqbot"}
	assert.Equal(t, "liqbot:lock:exec", c.key("lock", "exec"))

	bare := &Client{}
	assert.Equal(t, "quote:0xabc", bare.key("quote", "0xabc"))
}
