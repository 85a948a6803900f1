package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func TestReadExternalPriceBatches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum,usd-coin", r.URL.Query().Get("ids"))
		assert.Equal(t, "secret", r.Header.Get("x-cg-pro-api-key"))
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2001.25},"usd-coin":{"usd":0.99987654321}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "secret",
		CoinIDs: map[common.Address]string{weth: "ethereum", usdc: "usd-coin"},
		Refresh: time.Minute,
	}, nil)

	p, err := c.ReadExternalPrice(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, "200125000000", p.String())

	p, err = c.ReadExternalPrice(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, "99987654", p.String())
	assert.Equal(t, int32(1), hits.Load())

	p, err = c.ReadExternalPrice(context.Background(), dai)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestReadExternalPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, CoinIDs: map[common.Address]string{weth: "ethereum"}}, nil)
	_, err := c.ReadExternalPrice(context.Background(), weth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestParseSimplePriceSkipsMissing(t *testing.T) {
	got, err := parseSimplePrice([]byte(`{"a":{"usd":1},"b":{"eur":2},"c":{"usd":0}}`))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "100000000", got["a"].String())
}
