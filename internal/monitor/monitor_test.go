package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
	"github.com/alanyoungcy/liqbot/internal/metrics"
	"github.com/alanyoungcy/liqbot/internal/profit"
	"github.com/alanyoungcy/liqbot/internal/strategy"
)

var (
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	newcomer = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func units(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixed.Pow10(decimals))
}

func liquidatable() domain.Position {
	return domain.Position{
		User:         borrower,
		HealthFactor: fixed.RatioWad(0.90),
		Status:       domain.PositionLiquidatable,
		Collateral: []domain.AssetExposure{
			{Asset: weth, Amount: units(10, 18), Decimals: 18, IsCollateral: true, LiquidationBonusBps: 10_500},
		},
		Debt: []domain.AssetExposure{
			{Asset: usdc, Amount: units(10_000, 6), Decimals: 6},
		},
	}
}

type fakeTracker struct {
	mu        sync.Mutex
	positions []domain.Position
	err       error
	transient []error // returned, in order, before err and positions
	calls     int
	scanned   []common.Address
	refreshed []common.Address
}

func (f *fakeTracker) ScanWatchlist(_ context.Context, users []common.Address, _ string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, users...)
	return nil, nil
}

func (f *fakeTracker) LiquidatablePositions(context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.transient) > 0 {
		err := f.transient[0]
		f.transient = f.transient[1:]
		return nil, err
	}
	return f.positions, f.err
}

func (f *fakeTracker) Refresh(_ context.Context, user common.Address) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, user)
	return domain.Position{User: user}, nil
}

func (f *fakeTracker) Len() int { return len(f.positions) }

type fakeQuoter struct {
	requested []common.Address
	missing   map[common.Address]bool
}

func (f *fakeQuoter) QuoteMany(_ context.Context, assets []common.Address) (map[common.Address]domain.PriceQuote, error) {
	f.requested = assets
	prices := map[common.Address]*big.Int{weth: units(2000, 8), usdc: units(1, 8)}
	out := map[common.Address]domain.PriceQuote{}
	var err error
	for _, a := range assets {
		if f.missing[a] {
			err = errors.Join(err, domain.ErrSourceUnavailable)
			continue
		}
		out[a] = domain.PriceQuote{Asset: a, OraclePrice: prices[a]}
	}
	return out, err
}

type fixedGas struct{ wei *big.Int }

func (g fixedGas) CurrentGasPrice(context.Context) (*big.Int, error) { return g.wei, nil }

type fakeExecutor struct {
	calls  int
	ranked []domain.ProfitEstimate
	res    domain.ExecutionResult
	err    error
}

func (f *fakeExecutor) Attempt(_ context.Context, ranked []domain.ProfitEstimate) (domain.ExecutionResult, error) {
	f.calls++
	f.ranked = ranked
	return f.res, f.err
}

func (f *fakeExecutor) State() domain.ExecState { return domain.ExecIdle }

type fakeDiscovery struct{ users []common.Address }

func (f fakeDiscovery) NextBorrowers(context.Context) ([]common.Address, error) { return f.users, nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]Envelope{}
	}
	p.events[channel] = append(p.events[channel], env)
	return nil
}

type fixture struct {
	loop    *Loop
	tracker *fakeTracker
	quoter  *fakeQuoter
	exec    *fakeExecutor
	pub     *recordingPublisher
}

func newFixture(t *testing.T, dryRun bool) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	calcCfg := profit.DefaultConfig()
	calcCfg.NativeAsset = weth
	calcCfg.GasLimitFlash = 500_000
	registry := strategy.NewRegistry(logger, strategy.Baseline{})
	require.NoError(t, registry.SetActive(strategy.NameBaseline))

	f := fixture{
		tracker: &fakeTracker{positions: []domain.Position{liquidatable()}},
		quoter:  &fakeQuoter{},
		exec: &fakeExecutor{res: domain.ExecutionResult{
			ID: "x", Success: true, User: borrower, Financing: domain.FinancingFlashLoan,
		}},
		pub: &recordingPublisher{},
	}
	deps := Deps{
		Tracker:    f.tracker,
		Quoter:     f.quoter,
		Gas:        fixedGas{wei: new(big.Int).Mul(big.NewInt(20), big.NewInt(params.GWei))},
		Calculator: profit.NewCalculator(calcCfg),
		Registry:   registry,
		Discovery:  fakeDiscovery{users: []common.Address{newcomer}},
		Publisher:  f.pub,
		Metrics:    metrics.New(),
	}
	if !dryRun {
		deps.Executor = f.exec
	}
	loop, err := New(deps, Config{Interval: time.Millisecond, DryRun: dryRun, NativeAsset: weth}, logger)
	require.NoError(t, err)
	f.loop = loop
	return f
}

func TestRunCycleRanksAndExecutes(t *testing.T) {
	f := newFixture(t, false)

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []common.Address{newcomer}, f.tracker.scanned)
	assert.Equal(t, []common.Address{weth, usdc}, f.quoter.requested)
	assert.Equal(t, 1, report.Liquidatable)
	assert.Equal(t, 1, report.Estimates)
	assert.Equal(t, 1, report.Profitable)
	assert.True(t, report.Executed)

	require.Equal(t, 1, f.exec.calls)
	require.Len(t, f.exec.ranked, 1)
	assert.Equal(t, "450.25", f.exec.ranked[0].NetProfitUSD.String())
	assert.Equal(t, []common.Address{borrower}, f.tracker.refreshed)

	latest := f.loop.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, usdc, latest[0].DebtAsset)

	assert.Len(t, f.pub.events[domain.ChannelOpportunity], 1)
	assert.Len(t, f.pub.events[domain.ChannelExecution], 1)
	require.Len(t, f.pub.events[domain.ChannelCycle], 1)
	assert.Equal(t, EventCycle, f.pub.events[domain.ChannelCycle][0].Type)
}

func TestRunCycleDryRunNeverExecutes(t *testing.T) {
	f := newFixture(t, true)

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Executed)
	assert.Equal(t, "dry_run", report.ExecSkip)
	assert.Zero(t, f.exec.calls)
	assert.Len(t, f.loop.Latest(), 1)
}

func TestRunCycleGatedExecutionIsNotAnError(t *testing.T) {
	f := newFixture(t, false)
	f.exec.err = domain.ErrCooldownActive

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Executed)
	assert.Equal(t, "CooldownActive", report.ExecSkip)
	assert.Empty(t, f.tracker.refreshed)
}

func TestRunCycleIsolatesMissingQuotes(t *testing.T) {
	f := newFixture(t, false)
	second := liquidatable()
	second.User = newcomer
	second.Collateral = append(second.Collateral, domain.AssetExposure{
		Asset: common.HexToAddress("0xdead"), Amount: units(1, 18), Decimals: 18, IsCollateral: true,
	})
	f.tracker.positions = append(f.tracker.positions, second)
	f.quoter.missing = map[common.Address]bool{common.HexToAddress("0xdead"): true}

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Estimates)
	assert.Equal(t, 1, report.PairErrors)
}

func TestRunCycleNothingLiquidatable(t *testing.T) {
	f := newFixture(t, false)
	f.tracker.positions = nil

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Liquidatable)
	assert.Zero(t, f.exec.calls)
	assert.Empty(t, f.loop.Latest())
}

func TestRunCycleTrackerFailure(t *testing.T) {
	f := newFixture(t, false)
	f.tracker.err = domain.ErrReadError

	_, err := f.loop.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrReadError)
	assert.Zero(t, f.exec.calls)
}

func TestOpportunityAnnouncedOncePerTarget(t *testing.T) {
	f := newFixture(t, true)
	for range 3 {
		_, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, f.pub.events[domain.ChannelOpportunity], 1)
	assert.Len(t, f.pub.events[domain.ChannelCycle], 3)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.pub.mu.Lock()
		defer f.pub.mu.Unlock()
		return len(f.pub.events[domain.ChannelCycle]) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunReschedulesAfterFailedCycles(t *testing.T) {
	f := newFixture(t, true)
	f.tracker.transient = []error{domain.ErrReadError, domain.ErrReadError}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.pub.mu.Lock()
		defer f.pub.mu.Unlock()
		return len(f.pub.events[domain.ChannelCycle]) >= 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	f.tracker.mu.Lock()
	calls := f.tracker.calls
	f.tracker.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3)

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	payload, ok := f.pub.events[domain.ChannelCycle][0].Payload.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, payload["liquidatable"])
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(0, time.Second, 5*time.Second))
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(4*time.Second, time.Second, 5*time.Second))
}

func TestNewRequiresExecutorUnlessDryRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(Deps{}, Config{}, logger)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
