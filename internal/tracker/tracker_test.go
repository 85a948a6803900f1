package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c0")

	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type fakeProtocol struct {
	mu          sync.Mutex
	hf          map[common.Address]*big.Int
	reserves    map[common.Address][]domain.UserReserve
	emode       map[common.Address]uint8
	failUsers   map[common.Address]bool
	configReads int
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{
		hf:        map[common.Address]*big.Int{},
		reserves:  map[common.Address][]domain.UserReserve{},
		emode:     map[common.Address]uint8{},
		failUsers: map[common.Address]bool{},
	}
}

func (f *fakeProtocol) setHF(user common.Address, hf float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hf[user] = fixed.RatioWad(hf)
}

func (f *fakeProtocol) ReadAccountSummary(_ context.Context, user common.Address) (domain.AccountSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers[user] {
		return domain.AccountSummary{}, errors.New("rpc timeout")
	}
	return domain.AccountSummary{
		TotalCollateralBase: big.NewInt(1_000),
		TotalDebtBase:       big.NewInt(900),
		HealthFactor:        f.hf[user],
	}, nil
}

func (f *fakeProtocol) ReadDetailedReserves(_ context.Context, user common.Address) ([]domain.UserReserve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserves[user], nil
}

func (f *fakeProtocol) ReadReserveConfig(_ context.Context, asset common.Address) (domain.ReserveConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configReads++
	switch asset {
	case weth:
		return domain.ReserveConfig{Symbol: "WETH", Decimals: 18, LiquidationThresholdBps: 8250, LiquidationBonusBps: 10500, CollateralEnabled: true}, nil
	case usdc:
		return domain.ReserveConfig{Symbol: "USDC", Decimals: 6, LiquidationThresholdBps: 7800, LiquidationBonusBps: 10450, CollateralEnabled: true}, nil
	}
	return domain.ReserveConfig{}, errors.New("unknown reserve")
}

func (f *fakeProtocol) ReadReservesList(context.Context) ([]common.Address, error) {
	return []common.Address{weth, usdc}, nil
}

func (f *fakeProtocol) ReadUserEMode(_ context.Context, user common.Address) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emode[user], nil
}

type memWatchlist struct {
	mu      sync.Mutex
	entries map[common.Address]domain.WatchlistEntry
}

func (m *memWatchlist) Upsert(_ context.Context, e domain.WatchlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.User] = e
	return nil
}

func (m *memWatchlist) Remove(_ context.Context, user common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, user)
	return nil
}

func (m *memWatchlist) List(context.Context) ([]domain.WatchlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WatchlistEntry
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func standardReserves() []domain.UserReserve {
	return []domain.UserReserve{
		{Asset: weth, CollateralBalance: big.NewInt(5e17), StableDebt: big.NewInt(0), VariableDebt: big.NewInt(0), UsageAsCollateral: true},
		{Asset: usdc, CollateralBalance: big.NewInt(0), StableDebt: big.NewInt(0), VariableDebt: big.NewInt(800_000_000)},
	}
}

func newTestTracker(p *fakeProtocol, store domain.WatchlistStore, evictAfter int) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(p, nil, store, Config{
		WatchThreshold: fixed.RatioWad(1.1),
		EvictAfter:     evictAfter,
		Concurrency:    4,
	}, logger)
}

func TestClassify(t *testing.T) {
	tr := newTestTracker(newFakeProtocol(), nil, 0)
	assert.Equal(t, domain.PositionLiquidatable, tr.Classify(fixed.RatioWad(0.99)))
	assert.Equal(t, domain.PositionWatched, tr.Classify(fixed.RatioWad(1.0)))
	assert.Equal(t, domain.PositionWatched, tr.Classify(fixed.RatioWad(1.05)))
	assert.Equal(t, domain.PositionHealthy, tr.Classify(fixed.RatioWad(1.1)))
}

func TestRefreshAccountSummaryReadError(t *testing.T) {
	p := newFakeProtocol()
	p.failUsers[alice] = true
	tr := newTestTracker(p, nil, 0)

	_, err := tr.RefreshAccountSummary(context.Background(), alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReadError)
}

func TestBuildDetailedPosition(t *testing.T) {
	p := newFakeProtocol()
	p.setHF(alice, 0.97)
	p.reserves[alice] = standardReserves()
	p.emode[alice] = 1
	tr := newTestTracker(p, nil, 0)

	pos, err := tr.BuildDetailedPosition(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, pos.Collateral, 1)
	require.Len(t, pos.Debt, 1)
	assert.Equal(t, weth, pos.Collateral[0].Asset)
	assert.Equal(t, uint8(18), pos.Collateral[0].Decimals)
	assert.Equal(t, uint64(10500), pos.Collateral[0].LiquidationBonusBps)
	assert.Equal(t, "800000000", pos.Debt[0].Amount.String())
	assert.Equal(t, domain.EModeETHCorrelated, pos.EMode)
	assert.Equal(t, domain.PositionLiquidatable, pos.Status)

	// reserve configs are cached across calls
	_, err = tr.BuildDetailedPosition(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 2, p.configReads)
}

func TestScanWatchlistAddsOnlyBelowWatchThreshold(t *testing.T) {
	p := newFakeProtocol()
	p.setHF(alice, 1.05)
	p.setHF(bob, 1.5)
	p.setHF(carol, 0.9)
	p.failUsers[carol] = true
	for _, u := range []common.Address{alice, bob, carol} {
		p.reserves[u] = standardReserves()
	}
	store := &memWatchlist{entries: map[common.Address]domain.WatchlistEntry{}}
	tr := newTestTracker(p, store, 0)

	got, err := tr.ScanWatchlist(context.Background(), []common.Address{alice, bob, carol}, "seed")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alice, got[0].User)
	assert.Equal(t, []common.Address{alice}, tr.Monitored())
	assert.Contains(t, store.entries, alice)
}

func TestLiquidatablePositionsNeverGrowsSet(t *testing.T) {
	p := newFakeProtocol()
	p.setHF(alice, 1.05)
	p.reserves[alice] = standardReserves()
	tr := newTestTracker(p, nil, 0)

	_, err := tr.ScanWatchlist(context.Background(), []common.Address{alice}, "seed")
	require.NoError(t, err)

	p.setHF(alice, 0.95)
	p.setHF(bob, 0.5)
	p.reserves[bob] = standardReserves()

	got, err := tr.LiquidatablePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alice, got[0].User)
	assert.True(t, got[0].HasExposures())
	assert.Equal(t, 1, tr.Len())
}

func TestEvictionAfterHealthyCycles(t *testing.T) {
	p := newFakeProtocol()
	p.setHF(alice, 1.05)
	p.reserves[alice] = standardReserves()
	store := &memWatchlist{entries: map[common.Address]domain.WatchlistEntry{}}
	tr := newTestTracker(p, store, 2)

	_, err := tr.ScanWatchlist(context.Background(), []common.Address{alice}, "seed")
	require.NoError(t, err)

	p.setHF(alice, 1.5)
	_, err = tr.LiquidatablePositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Len())

	// a watched cycle resets the streak
	p.setHF(alice, 1.05)
	_, err = tr.LiquidatablePositions(context.Background())
	require.NoError(t, err)

	p.setHF(alice, 1.5)
	_, err = tr.LiquidatablePositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Len())
	_, err = tr.LiquidatablePositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Len())
	assert.NotContains(t, store.entries, alice)
}

func TestSubscribeRestoreUnsubscribe(t *testing.T) {
	p := newFakeProtocol()
	store := &memWatchlist{entries: map[common.Address]domain.WatchlistEntry{}}
	tr := newTestTracker(p, store, 0)

	tr.Subscribe(context.Background(), bob, "api")
	assert.Contains(t, store.entries, bob)

	restored := newTestTracker(p, store, 0)
	n, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []common.Address{bob}, restored.Monitored())

	assert.True(t, restored.Unsubscribe(context.Background(), bob))
	assert.False(t, restored.Unsubscribe(context.Background(), bob))
	assert.Empty(t, store.entries)
}

func TestRefreshDropsRepaidPosition(t *testing.T) {
	p := newFakeProtocol()
	p.setHF(alice, 0.9)
	p.reserves[alice] = standardReserves()
	tr := newTestTracker(p, nil, 0)
	tr.Subscribe(context.Background(), alice, "api")

	p.reserves[alice] = standardReserves()[:1]
	_, err := tr.Refresh(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Len())
}

func TestReserveTableReload(t *testing.T) {
	p := newFakeProtocol()
	table := NewReserveTable(p)
	require.NoError(t, table.Load(context.Background()))
	assert.Equal(t, []common.Address{weth, usdc}, table.Assets())
	cfg, ok := table.Lookup(usdc)
	require.True(t, ok)
	assert.Equal(t, uint8(6), cfg.Decimals)

	require.NoError(t, table.Reload(context.Background()))
	assert.Equal(t, 4, p.configReads)
}
