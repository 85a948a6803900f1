// Package monitor drives the liquidation engine: every cycle it scans the
// monitored positions, snapshots prices, estimates and ranks every pair and
// hands the ranking to the execution orchestrator.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/executor"
	"github.com/alanyoungcy/liqbot/internal/fixed"
	"github.com/alanyoungcy/liqbot/internal/metrics"
	"github.com/alanyoungcy/liqbot/internal/notify"
	"github.com/alanyoungcy/liqbot/internal/profit"
	"github.com/alanyoungcy/liqbot/internal/strategy"
)

// PositionTracker is the part of the tracker the loop drives.
type PositionTracker interface {
	ScanWatchlist(ctx context.Context, users []common.Address, source string) ([]domain.Position, error)
	LiquidatablePositions(ctx context.Context) ([]domain.Position, error)
	Refresh(ctx context.Context, user common.Address) (domain.Position, error)
	Len() int
}

// Quoter produces one consistent price snapshot per cycle.
type Quoter interface {
	QuoteMany(ctx context.Context, assets []common.Address) (map[common.Address]domain.PriceQuote, error)
}

// Executor attempts the best ranked candidate.
type Executor interface {
	Attempt(ctx context.Context, ranked []domain.ProfitEstimate) (domain.ExecutionResult, error)
	State() domain.ExecState
}

// Publisher delivers JSON events; the Redis signal bus and the WebSocket
// hub both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Config tunes the loop.
type Config struct {
	Interval time.Duration
	// ErrorBackoff is the first delay after a failed cycle; it doubles up
	// to MaxBackoff while cycles keep failing.
	ErrorBackoff time.Duration
	MaxBackoff   time.Duration
	// DryRun ranks without ever calling the executor.
	DryRun      bool
	NativeAsset common.Address
	Concurrency int
	// KeepRanked bounds the ranking retained for Latest.
	KeepRanked int
}

// Deps are the loop's collaborators. Discovery, Executor, Publisher,
// Notifier and Metrics are optional.
type Deps struct {
	Tracker    PositionTracker
	Quoter     Quoter
	Gas        domain.GasOracle
	Calculator *profit.Calculator
	Registry   *strategy.Registry
	Discovery  domain.BorrowerSource
	Executor   Executor
	Publisher  Publisher
	Notifier   *notify.Notifier
	Metrics    *metrics.Metrics
}

// Loop is the monitoring loop.
type Loop struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	ranked       []domain.ProfitEstimate
	lastReport   CycleReport
	lastNotified string
}

// New validates deps and creates a Loop.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Loop, error) {
	if deps.Tracker == nil || deps.Quoter == nil || deps.Gas == nil || deps.Calculator == nil || deps.Registry == nil {
		return nil, fmt.Errorf("monitor: tracker, quoter, gas oracle, calculator and registry are required: %w", domain.ErrConfiguration)
	}
	if !cfg.DryRun && deps.Executor == nil {
		return nil, fmt.Errorf("monitor: executor required unless dry run: %w", domain.ErrConfiguration)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * cfg.Interval
	}
	if cfg.MaxBackoff < cfg.ErrorBackoff {
		cfg.MaxBackoff = 8 * cfg.ErrorBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.KeepRanked <= 0 {
		cfg.KeepRanked = 100
	}
	return &Loop{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "monitor")),
		now:    time.Now,
	}, nil
}

// Run executes a cycle immediately and then every Interval until ctx is
// cancelled. A failed cycle reschedules after the backoff delay instead of
// stopping the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "monitor: loop starting",
		slog.Duration("interval", l.cfg.Interval),
		slog.Bool("dry_run", l.cfg.DryRun),
	)

	var backoff time.Duration
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor: loop stopped")
			return nil
		case <-timer.C:
		}

		_, err := l.RunCycle(ctx)
		if ctx.Err() != nil {
			l.logger.Info("monitor: loop stopped")
			return nil
		}
		if err != nil {
			backoff = nextBackoff(backoff, l.cfg.ErrorBackoff, l.cfg.MaxBackoff)
			l.logger.ErrorContext(ctx, "monitor: cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			l.notifyError(ctx, err)
			timer.Reset(backoff)
			continue
		}
		backoff = 0
		timer.Reset(l.cfg.Interval)
	}
}

// nextBackoff doubles prev, starting at initial and capped at ceiling.
func nextBackoff(prev, initial, ceiling time.Duration) time.Duration {
	if prev <= 0 {
		return initial
	}
	return min(2*prev, ceiling)
}

// RunCycle performs one scan, rank and execute pass. Only failures that
// leave the cycle without a consistent snapshot are returned; per-position
// and per-pair problems are logged and skipped.
func (l *Loop) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: l.now().UTC()}
	outcome := "ok"
	defer func() {
		report.Duration = l.now().Sub(report.StartedAt)
		if l.deps.Metrics != nil {
			l.deps.Metrics.ObserveCycle(outcome, report.Duration.Seconds())
		}
	}()

	report.Discovered = l.discover(ctx)

	positions, err := l.deps.Tracker.LiquidatablePositions(ctx)
	if err != nil {
		outcome = "error"
		return report, fmt.Errorf("monitor: liquidatable positions: %w", err)
	}
	report.Monitored = l.deps.Tracker.Len()
	report.Liquidatable = len(positions)
	if l.deps.Metrics != nil {
		l.deps.Metrics.SetPositions(report.Monitored, report.Liquidatable)
	}

	if len(positions) == 0 {
		outcome = "idle"
		l.store(nil, report)
		l.publish(ctx, domain.ChannelCycle, EventCycle, report)
		return report, nil
	}

	snap, quoteFailures, err := l.snapshot(ctx, positions)
	if err != nil {
		outcome = "error"
		return report, err
	}
	report.Quoted = len(snap.Quotes)
	if l.deps.Metrics != nil {
		l.deps.Metrics.ObserveQuotes(quoteLabels(snap.Quotes), quoteFailures)
	}

	estimates, pairErrors := l.estimate(ctx, positions, snap)
	report.Estimates = len(estimates)
	report.PairErrors = pairErrors

	ranked := l.deps.Registry.Rank(estimates, snap)
	report.Profitable = len(strategy.Profitable(ranked))
	if l.deps.Metrics != nil {
		l.deps.Metrics.ObserveEstimates(estimates, pairErrors)
		var best *domain.ProfitEstimate
		if len(ranked) > 0 {
			best = &ranked[0]
		}
		l.deps.Metrics.SetBest(best)
	}
	l.announce(ctx, ranked)

	if l.cfg.DryRun {
		report.ExecSkip = "dry_run"
	} else {
		report.Executed, report.ExecSkip = l.execute(ctx, ranked)
	}

	l.store(ranked, report)
	l.publish(ctx, domain.ChannelCycle, EventCycle, report)
	l.logger.InfoContext(ctx, "monitor: cycle complete",
		slog.Int("monitored", report.Monitored),
		slog.Int("liquidatable", report.Liquidatable),
		slog.Int("estimates", report.Estimates),
		slog.Int("profitable", report.Profitable),
		slog.Bool("executed", report.Executed),
	)
	return report, nil
}

// discover feeds newly seen borrowers into the watchlist scan. Discovery is
// best effort and never fails the cycle.
func (l *Loop) discover(ctx context.Context) int {
	if l.deps.Discovery == nil {
		return 0
	}
	users, err := l.deps.Discovery.NextBorrowers(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "monitor: borrower discovery failed", slog.String("error", err.Error()))
		return 0
	}
	if len(users) == 0 {
		return 0
	}
	added, err := l.deps.Tracker.ScanWatchlist(ctx, users, "discovery")
	if err != nil {
		l.logger.WarnContext(ctx, "monitor: watchlist scan failed", slog.String("error", err.Error()))
		return 0
	}
	return len(added)
}

// snapshot gathers every price and the gas price the cycle ranks against.
func (l *Loop) snapshot(ctx context.Context, positions []domain.Position) (profit.Snapshot, int, error) {
	assets := collectAssets(positions, l.cfg.NativeAsset)

	quotes, err := l.deps.Quoter.QuoteMany(ctx, assets)
	if quotes == nil {
		quotes = map[common.Address]domain.PriceQuote{}
	}
	if err != nil {
		if len(quotes) == 0 {
			return profit.Snapshot{}, len(assets), fmt.Errorf("monitor: quote snapshot: %w", err)
		}
		l.logger.WarnContext(ctx, "monitor: some quotes unavailable",
			slog.Int("requested", len(assets)),
			slog.Int("quoted", len(quotes)),
			slog.String("error", err.Error()),
		)
	}

	gasPrice, err := l.deps.Gas.CurrentGasPrice(ctx)
	if err != nil {
		return profit.Snapshot{}, 0, fmt.Errorf("monitor: gas price: %w", err)
	}
	return profit.Snapshot{Quotes: quotes, GasPrice: gasPrice, TakenAt: l.now().UTC()}, len(assets) - len(quotes), nil
}

// estimate fans EstimateAll out over positions. Order follows positions so
// the ranking input is deterministic.
func (l *Loop) estimate(ctx context.Context, positions []domain.Position, snap profit.Snapshot) ([]domain.ProfitEstimate, int) {
	perPos := make([][]domain.ProfitEstimate, len(positions))
	perErr := make([][]profit.PairError, len(positions))

	var g errgroup.Group
	g.SetLimit(l.cfg.Concurrency)
	for i, pos := range positions {
		g.Go(func() error {
			perPos[i], perErr[i] = l.deps.Calculator.EstimateAll(pos, snap)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out    []domain.ProfitEstimate
		failed int
	)
	for i := range positions {
		out = append(out, perPos[i]...)
		for _, pe := range perErr[i] {
			failed++
			if errors.Is(pe.Err, domain.ErrNotLiquidatable) {
				continue
			}
			l.logger.DebugContext(ctx, "monitor: pair skipped",
				slog.String("user", pe.User.Hex()),
				slog.String("debt_asset", pe.DebtAsset.Hex()),
				slog.String("collateral_asset", pe.CollateralAsset.Hex()),
				slog.String("error", pe.Err.Error()),
			)
		}
	}
	return out, failed
}

// execute hands the ranking to the executor and feeds the result back.
func (l *Loop) execute(ctx context.Context, ranked []domain.ProfitEstimate) (bool, string) {
	res, err := l.deps.Executor.Attempt(ctx, ranked)
	if l.deps.Metrics != nil {
		l.deps.Metrics.SetExecutorState(l.deps.Executor.State())
	}
	if err != nil {
		if executor.IsGatingError(err) {
			l.logger.DebugContext(ctx, "monitor: execution gated", slog.String("reason", err.Error()))
		} else {
			l.logger.WarnContext(ctx, "monitor: execution aborted", slog.String("error", err.Error()))
		}
		return false, gateReason(err)
	}

	if _, err := l.deps.Tracker.Refresh(ctx, res.User); err != nil {
		l.logger.WarnContext(ctx, "monitor: refresh after execution failed",
			slog.String("user", res.User.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.ObserveExecution(res)
	}
	if l.deps.Notifier != nil {
		if err := l.deps.Notifier.ExecutionResult(ctx, res); err != nil {
			l.logger.WarnContext(ctx, "monitor: notify execution failed", slog.String("error", err.Error()))
		}
	}
	l.publish(ctx, domain.ChannelExecution, EventExecution, res)
	return true, ""
}

// announce notifies and publishes the best profitable opportunity when it
// differs from the one announced last.
func (l *Loop) announce(ctx context.Context, ranked []domain.ProfitEstimate) {
	best := strategy.Profitable(ranked)
	if len(best) == 0 {
		return
	}
	top := best[0]
	l.mu.Lock()
	fresh := l.lastNotified != top.TargetKey()
	l.lastNotified = top.TargetKey()
	l.mu.Unlock()
	if !fresh {
		return
	}

	l.publish(ctx, domain.ChannelOpportunity, EventOpportunity, NewOpportunity(top))
	if l.deps.Notifier != nil {
		if err := l.deps.Notifier.Opportunity(ctx, top); err != nil {
			l.logger.WarnContext(ctx, "monitor: notify opportunity failed", slog.String("error", err.Error()))
		}
	}
}

func (l *Loop) notifyError(ctx context.Context, err error) {
	if l.deps.Notifier == nil {
		return
	}
	if nerr := l.deps.Notifier.Error(ctx, "monitor", err); nerr != nil {
		l.logger.WarnContext(ctx, "monitor: notify error failed", slog.String("error", nerr.Error()))
	}
}

func (l *Loop) publish(ctx context.Context, channel, kind string, payload any) {
	if l.deps.Publisher == nil {
		return
	}
	data, err := json.Marshal(Envelope{Type: kind, At: l.now().UTC(), Payload: payload})
	if err != nil {
		l.logger.WarnContext(ctx, "monitor: marshal event", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}
	if err := l.deps.Publisher.Publish(ctx, channel, data); err != nil {
		l.logger.WarnContext(ctx, "monitor: publish event",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Loop) store(ranked []domain.ProfitEstimate, report CycleReport) {
	if len(ranked) > l.cfg.KeepRanked {
		ranked = ranked[:l.cfg.KeepRanked]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ranked = ranked
	l.lastReport = report
}

// Latest returns the ranking of the most recent cycle, best first.
func (l *Loop) Latest() []domain.ProfitEstimate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ProfitEstimate, len(l.ranked))
	copy(out, l.ranked)
	return out
}

// LastReport returns the summary of the most recent cycle.
func (l *Loop) LastReport() CycleReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastReport
}

// collectAssets returns every asset the positions touch plus the native
// asset used to price gas, without duplicates.
func collectAssets(positions []domain.Position, native common.Address) []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	add := func(a common.Address) {
		if a == (common.Address{}) || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	add(native)
	for _, p := range positions {
		for _, e := range p.Debt {
			add(e.Asset)
		}
		for _, e := range p.Collateral {
			add(e.Asset)
		}
	}
	return out
}

func quoteLabels(quotes map[common.Address]domain.PriceQuote) map[string]domain.PriceQuote {
	out := make(map[string]domain.PriceQuote, len(quotes))
	for a, q := range quotes {
		out[a.Hex()] = q
	}
	return out
}

func gateReason(err error) string {
	for _, sentinel := range []error{
		domain.ErrNoOpportunity, domain.ErrCooldownActive, domain.ErrExecutionInFlight,
		domain.ErrGasPriceTooHigh, domain.ErrInsufficientBalance, domain.ErrLockHeld,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "error"
}

func wadString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return fixed.WadToDecimal(v).StringFixed(4)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
