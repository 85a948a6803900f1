// Package tracker maintains the set of monitored borrowers and refreshes their
// positions against the lending protocol.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

// Config holds the tracker thresholds. Health factors are WADs.
type Config struct {
	// WatchThreshold admits an address into the monitored set when its
	// health factor is below it.
	WatchThreshold *big.Int
	// EvictAfter removes a monitored address after this many consecutive
	// cycles above WatchThreshold. Zero disables eviction.
	EvictAfter int
	// Concurrency bounds parallel protocol reads.
	Concurrency int
}

type monitored struct {
	source        string
	healthyStreak int
	last          domain.Position
}

// Tracker owns the monitored-address set. All methods are safe for concurrent
// use.
type Tracker struct {
	protocol domain.ProtocolReader
	reserves *ReserveTable
	store    domain.WatchlistStore
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.RWMutex
	members map[common.Address]*monitored
}

// New creates a Tracker. store may be nil, in which case the monitored set is
// not persisted.
func New(protocol domain.ProtocolReader, reserves *ReserveTable, store domain.WatchlistStore, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.WatchThreshold == nil {
		cfg.WatchThreshold = fixed.RatioWad(1.1)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if reserves == nil {
		reserves = NewReserveTable(protocol)
	}
	return &Tracker{
		protocol: protocol,
		reserves: reserves,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "tracker")),
		members:  make(map[common.Address]*monitored),
	}
}

// Reserves returns the reserve configuration table.
func (t *Tracker) Reserves() *ReserveTable { return t.reserves }

// Restore loads the persisted watchlist into the monitored set.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	entries, err := t.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("tracker: restore watchlist: %w", err)
	}
	t.mu.Lock()
	for _, e := range entries {
		if _, ok := t.members[e.User]; !ok {
			t.members[e.User] = &monitored{source: e.Source}
		}
	}
	t.mu.Unlock()
	return len(entries), nil
}

// Classify maps a health factor onto a PositionStatus.
func (t *Tracker) Classify(hf *big.Int) domain.PositionStatus {
	switch {
	case hf == nil:
		return domain.PositionHealthy
	case hf.Cmp(fixed.WAD) < 0:
		return domain.PositionLiquidatable
	case hf.Cmp(t.cfg.WatchThreshold) < 0:
		return domain.PositionWatched
	default:
		return domain.PositionHealthy
	}
}

// RefreshAccountSummary reads the aggregate figures for user. The returned
// Position carries no exposures.
func (t *Tracker) RefreshAccountSummary(ctx context.Context, user common.Address) (domain.Position, error) {
	sum, err := t.protocol.ReadAccountSummary(ctx, user)
	if err != nil {
		return domain.Position{}, readError("account summary", user, err)
	}
	return domain.Position{
		User:            user,
		HealthFactor:    sum.HealthFactor,
		TotalCollateral: sum.TotalCollateralBase,
		TotalDebt:       sum.TotalDebtBase,
		Status:          t.Classify(sum.HealthFactor),
		RefreshedAt:     t.now(),
	}, nil
}

// BuildDetailedPosition reads the summary and every reserve balance of user,
// keeping the assets where collateral or debt is nonzero.
func (t *Tracker) BuildDetailedPosition(ctx context.Context, user common.Address) (domain.Position, error) {
	pos, err := t.RefreshAccountSummary(ctx, user)
	if err != nil {
		return domain.Position{}, err
	}
	return t.detail(ctx, pos)
}

func (t *Tracker) detail(ctx context.Context, pos domain.Position) (domain.Position, error) {
	reserves, err := t.protocol.ReadDetailedReserves(ctx, pos.User)
	if err != nil {
		return domain.Position{}, readError("detailed reserves", pos.User, err)
	}
	category, err := t.protocol.ReadUserEMode(ctx, pos.User)
	if err != nil {
		return domain.Position{}, readError("user emode", pos.User, err)
	}
	pos.EMode = domain.EModeFromID(category)

	for _, r := range reserves {
		debt := r.TotalDebt()
		hasCollateral := r.UsageAsCollateral && r.CollateralBalance != nil && r.CollateralBalance.Sign() > 0
		hasDebt := debt.Sign() > 0
		if !hasCollateral && !hasDebt {
			continue
		}

		cfg, err := t.reserves.Get(ctx, r.Asset)
		if err != nil {
			return domain.Position{}, fmt.Errorf("tracker: %s: %w", pos.User.Hex(), err)
		}
		if hasCollateral {
			pos.Collateral = append(pos.Collateral, exposure(cfg, r.CollateralBalance, true))
		}
		if hasDebt {
			pos.Debt = append(pos.Debt, exposure(cfg, debt, false))
		}
	}
	return pos, nil
}

func exposure(cfg domain.ReserveConfig, amount *big.Int, collateral bool) domain.AssetExposure {
	return domain.AssetExposure{
		Asset:                   cfg.Asset,
		Symbol:                  cfg.Symbol,
		Amount:                  new(big.Int).Set(amount),
		Decimals:                cfg.Decimals,
		IsCollateral:            collateral,
		LiquidationBonusBps:     cfg.LiquidationBonusBps,
		LiquidationThresholdBps: cfg.LiquidationThresholdBps,
	}
}

// ScanWatchlist reads every address and returns the detailed positions whose
// health factor is below the watch threshold. Those addresses join the
// monitored set. Per-address read failures are logged and skipped.
func (t *Tracker) ScanWatchlist(ctx context.Context, users []common.Address, source string) ([]domain.Position, error) {
	results := make([]*domain.Position, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, user := range users {
		g.Go(func() error {
			pos, err := t.RefreshAccountSummary(gctx, user)
			if err != nil {
				t.logSkip(gctx, "scan", user, err)
				return nil
			}
			if pos.Status == domain.PositionHealthy {
				return nil
			}
			pos, err = t.detail(gctx, pos)
			if err != nil {
				t.logSkip(gctx, "scan", user, err)
				return nil
			}
			results[i] = &pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.Position
	for _, p := range results {
		if p == nil {
			continue
		}
		t.add(ctx, *p, source)
		out = append(out, *p)
	}
	return out, nil
}

// LiquidatablePositions re-reads every monitored address and returns the
// detailed positions below the liquidation boundary. It never adds addresses
// to the monitored set; it may evict ones that stayed healthy for
// Config.EvictAfter consecutive cycles.
func (t *Tracker) LiquidatablePositions(ctx context.Context) ([]domain.Position, error) {
	users := t.Monitored()
	results := make([]*domain.Position, len(users))
	refreshed := make([]*domain.Position, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, user := range users {
		g.Go(func() error {
			pos, err := t.RefreshAccountSummary(gctx, user)
			if err != nil {
				t.logSkip(gctx, "refresh", user, err)
				return nil
			}
			if pos.Status == domain.PositionLiquidatable {
				detailed, err := t.detail(gctx, pos)
				if err != nil {
					t.logSkip(gctx, "refresh", user, err)
					return nil
				}
				pos = detailed
				results[i] = &pos
			}
			refreshed[i] = &pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var evicted []common.Address
	t.mu.Lock()
	for _, pos := range refreshed {
		if pos == nil {
			continue
		}
		m, ok := t.members[pos.User]
		if !ok {
			// unsubscribed while the read was in flight
			continue
		}
		m.last = *pos
		if pos.Status == domain.PositionHealthy {
			m.healthyStreak++
		} else {
			m.healthyStreak = 0
		}
		if t.cfg.EvictAfter > 0 && m.healthyStreak >= t.cfg.EvictAfter {
			delete(t.members, pos.User)
			evicted = append(evicted, pos.User)
		}
	}
	t.mu.Unlock()

	for _, user := range evicted {
		t.forget(ctx, user)
		t.logger.InfoContext(ctx, "tracker: evicted healthy position",
			slog.String("user", user.Hex()),
			slog.Int("cycles", t.cfg.EvictAfter),
		)
	}

	out := make([]domain.Position, 0, len(results))
	for _, p := range results {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// Subscribe adds user to the monitored set regardless of its health factor.
func (t *Tracker) Subscribe(ctx context.Context, user common.Address, source string) {
	t.mu.Lock()
	_, exists := t.members[user]
	if !exists {
		t.members[user] = &monitored{source: source}
	}
	t.mu.Unlock()
	if !exists {
		t.persist(ctx, user, source)
	}
}

// Unsubscribe removes user from the monitored set. It reports whether the
// address was monitored.
func (t *Tracker) Unsubscribe(ctx context.Context, user common.Address) bool {
	t.mu.Lock()
	_, ok := t.members[user]
	delete(t.members, user)
	t.mu.Unlock()
	if ok {
		t.forget(ctx, user)
	}
	return ok
}

// Refresh re-reads user after an execution. A position left without debt is
// removed from the monitored set; otherwise its snapshot is updated.
func (t *Tracker) Refresh(ctx context.Context, user common.Address) (domain.Position, error) {
	pos, err := t.BuildDetailedPosition(ctx, user)
	if err != nil {
		return domain.Position{}, err
	}
	if len(pos.Debt) == 0 {
		t.Unsubscribe(ctx, user)
		return pos, nil
	}
	t.mu.Lock()
	if m, ok := t.members[user]; ok {
		m.last = pos
	}
	t.mu.Unlock()
	return pos, nil
}

// Monitored returns the monitored addresses in a stable order.
func (t *Tracker) Monitored() []common.Address {
	t.mu.RLock()
	out := make([]common.Address, 0, len(t.members))
	for user := range t.members {
		out = append(out, user)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Snapshots returns the last refreshed position of every monitored address
// that has been read at least once.
func (t *Tracker) Snapshots() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.members))
	for _, m := range t.members {
		if m.last.HealthFactor != nil {
			out = append(out, m.last)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HealthFactor.Cmp(out[j].HealthFactor) < 0
	})
	return out
}

// Len returns the size of the monitored set.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

func (t *Tracker) add(ctx context.Context, pos domain.Position, source string) {
	t.mu.Lock()
	m, exists := t.members[pos.User]
	if !exists {
		m = &monitored{source: source}
		t.members[pos.User] = m
	}
	m.last = pos
	m.healthyStreak = 0
	t.mu.Unlock()
	if !exists {
		t.persist(ctx, pos.User, source)
	}
}

func (t *Tracker) persist(ctx context.Context, user common.Address, source string) {
	if t.store == nil {
		return
	}
	err := t.store.Upsert(ctx, domain.WatchlistEntry{User: user, Source: source, AddedAt: t.now().UTC()})
	if err != nil {
		t.logger.WarnContext(ctx, "tracker: persist watchlist entry failed",
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Tracker) forget(ctx context.Context, user common.Address) {
	if t.store == nil {
		return
	}
	if err := t.store.Remove(ctx, user); err != nil && !errors.Is(err, domain.ErrNotFound) {
		t.logger.WarnContext(ctx, "tracker: remove watchlist entry failed",
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Tracker) logSkip(ctx context.Context, op string, user common.Address, err error) {
	t.logger.WarnContext(ctx, "tracker: skipping address",
		slog.String("op", op),
		slog.String("user", user.Hex()),
		slog.String("error", err.Error()),
	)
}

func readError(what string, user common.Address, err error) error {
	if errors.Is(err, domain.ErrReadError) {
		return fmt.Errorf("tracker: %s %s: %w", what, user.Hex(), err)
	}
	return fmt.Errorf("tracker: %s %s: %w: %v", what, user.Hex(), domain.ErrReadError, err)
}
