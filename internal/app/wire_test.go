package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/tracker"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type stubProtocol struct {
	reserves []common.Address
	err      error
}

func (s *stubProtocol) ReadAccountSummary(context.Context, common.Address) (domain.AccountSummary, error) {
	return domain.AccountSummary{}, s.err
}

func (s *stubProtocol) ReadDetailedReserves(context.Context, common.Address) ([]domain.UserReserve, error) {
	return nil, s.err
}

func (s *stubProtocol) ReadReserveConfig(_ context.Context, asset common.Address) (domain.ReserveConfig, error) {
	if s.err != nil {
		return domain.ReserveConfig{}, s.err
	}
	return domain.ReserveConfig{Decimals: 18, LiquidationBonusBps: 10_500}, nil
}

func (s *stubProtocol) ReadReservesList(context.Context) ([]common.Address, error) {
	return s.reserves, s.err
}

func (s *stubProtocol) ReadUserEMode(context.Context, common.Address) (uint8, error) {
	return 0, s.err
}

func TestLoadReserveTable(t *testing.T) {
	table := tracker.NewReserveTable(&stubProtocol{reserves: []common.Address{weth, usdc}})

	require.NoError(t, loadReserveTable(context.Background(), table))
	assert.Equal(t, []common.Address{weth, usdc}, table.Assets())
	cfg, ok := table.Lookup(usdc)
	require.True(t, ok)
	assert.Equal(t, usdc, cfg.Asset)
}

func TestLoadReserveTableUnreachableProvider(t *testing.T) {
	down := &stubProtocol{err: errors.New("dial tcp: connection refused")}
	table := tracker.NewReserveTable(down)

	err := loadReserveTable(context.Background(), table)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGweiToWei(t *testing.T) {
	assert.Equal(t, "150000000000", gweiToWei(150).String())
	assert.Equal(t, "500000000", gweiToWei(0.5).String())
}
