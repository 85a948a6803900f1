// Package executor turns the top-ranked liquidation opportunity into a single
// on-chain transaction, gated by cooldown, gas price and an in-flight guard.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Config holds the orchestrator's gating and submission parameters.
type Config struct {
	Financing domain.FinancingPath
	// Cooldown is the minimum gap between a terminal state and the next
	// submission.
	Cooldown time.Duration
	// MaxGasPrice is the gas price ceiling in wei.
	MaxGasPrice       *big.Int
	ReceiveUnderlying bool
	// SettlementTimeout bounds the wait for confirmation.
	SettlementTimeout time.Duration
	// DedupTTL skips targets submitted within this window.
	DedupTTL time.Duration
	// LockKey and LockTTL configure the optional distributed lock.
	LockKey string
	LockTTL time.Duration
}

// Deps are the orchestrator's collaborators. Funder is required only for the
// direct path; Lock and History may be nil.
type Deps struct {
	Submitter domain.LiquidationSubmitter
	Waiter    domain.SettlementWaiter
	Gas       domain.GasOracle
	Funder    domain.DirectFunder
	Lock      domain.LockManager
	History   *History
}

// Status is a point-in-time view of the orchestrator for operators.
type Status struct {
	State             domain.ExecState        `json:"state"`
	LastOutcome       domain.ExecState        `json:"last_outcome,omitempty"`
	InFlight          bool                    `json:"in_flight"`
	CooldownRemaining time.Duration           `json:"cooldown_remaining"`
	LastResult        *domain.ExecutionResult `json:"last_result,omitempty"`
}

// Orchestrator serialises executions. At most one Attempt runs at a time.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	recent  *RecentTargets
	history *History
	now     func() time.Time
	logger  *slog.Logger

	mu           sync.Mutex
	state        domain.ExecState
	lastOutcome  domain.ExecState
	inFlight     bool
	lastTerminal time.Time
	lastResult   *domain.ExecutionResult
}

// NewOrchestrator validates the configuration against the collaborators it
// needs and returns a ready Orchestrator in the Idle state.
func NewOrchestrator(deps Deps, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Submitter == nil || deps.Waiter == nil || deps.Gas == nil {
		return nil, fmt.Errorf("executor: submitter, waiter and gas oracle are required: %w", domain.ErrConfiguration)
	}
	switch cfg.Financing {
	case domain.FinancingFlashLoan:
	case domain.FinancingDirect:
		if deps.Funder == nil {
			return nil, fmt.Errorf("executor: direct path needs a funder: %w", domain.ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("executor: unknown financing path %q: %w", cfg.Financing, domain.ErrConfiguration)
	}
	if cfg.MaxGasPrice == nil || cfg.MaxGasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("executor: max gas price must be positive: %w", domain.ErrConfiguration)
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 3 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "liq:execution"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.SettlementTimeout + time.Minute
	}

	logger = logger.With(slog.String("component", "orchestrator"))
	history := deps.History
	if history == nil {
		history = NewHistory(0, nil, logger)
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		recent:  NewRecentTargets(cfg.DedupTTL),
		history: history,
		now:     time.Now,
		logger:  logger,
		state:   domain.ExecIdle,
	}, nil
}

// History returns the execution log.
func (o *Orchestrator) History() *History { return o.history }

// RecentTargets returns the recently submitted target guard.
func (o *Orchestrator) RecentTargets() *RecentTargets { return o.recent }

// State returns the current state.
func (o *Orchestrator) State() domain.ExecState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:       o.state,
		LastOutcome: o.lastOutcome,
		InFlight:    o.inFlight,
		LastResult:  o.lastResult,
	}
	if !o.lastTerminal.IsZero() {
		if left := o.cfg.Cooldown - o.now().Sub(o.lastTerminal); left > 0 {
			st.CooldownRemaining = left
		}
	}
	return st
}

// Attempt executes the highest-ranked profitable candidate.
//
// Gating rejections (in flight, cooldown, no opportunity, gas ceiling,
// insufficient balance, lock held) return an error with no ExecutionResult and
// leave the cooldown untouched. Once a transaction is submitted, Attempt
// always returns a result and a nil error; failures are reported in the
// result and restart the cooldown.
//
// The settlement wait is detached from ctx so shutting the loop down never
// abandons a submitted transaction.
func (o *Orchestrator) Attempt(ctx context.Context, ranked []domain.ProfitEstimate) (domain.ExecutionResult, error) {
	if err := o.begin(); err != nil {
		return domain.ExecutionResult{}, err
	}
	defer o.finish()

	candidate, ok := o.pick(ranked)
	if !ok {
		o.setState(domain.ExecNoOpportunity)
		return domain.ExecutionResult{}, domain.ErrNoOpportunity
	}
	log := o.logger.With(
		slog.String("user", candidate.Position.User.Hex()),
		slog.String("debt_asset", candidate.DebtAsset.Hex()),
		slog.String("collateral_asset", candidate.CollateralAsset.Hex()),
		slog.String("debt_to_cover", candidate.DebtToCover.String()),
		slog.String("net_profit_usd", candidate.NetProfitUSD.StringFixed(2)),
	)

	gasPrice, err := o.deps.Gas.CurrentGasPrice(ctx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: gas price: %w", err)
	}
	if gasPrice.Cmp(o.cfg.MaxGasPrice) > 0 {
		log.WarnContext(ctx, "executor: gas price above ceiling",
			slog.String("gas_price", gasPrice.String()),
			slog.String("max_gas_price", o.cfg.MaxGasPrice.String()),
		)
		return domain.ExecutionResult{}, fmt.Errorf("executor: gas price %s above %s: %w", gasPrice, o.cfg.MaxGasPrice, domain.ErrGasPriceTooHigh)
	}

	if o.deps.Lock != nil {
		unlock, err := o.deps.Lock.Acquire(ctx, o.cfg.LockKey, o.cfg.LockTTL)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("executor: acquire execution lock: %w", err)
		}
		defer unlock()
	}

	if o.cfg.Financing == domain.FinancingDirect {
		if err := o.prepareDirect(ctx, candidate); err != nil {
			return domain.ExecutionResult{}, err
		}
	}

	o.setState(domain.ExecExecuting)
	o.recent.Mark(candidate.TargetKey())

	res := domain.ExecutionResult{
		ID:              uuid.New().String(),
		User:            candidate.Position.User,
		DebtAsset:       candidate.DebtAsset,
		CollateralAsset: candidate.CollateralAsset,
		DebtToCover:     new(big.Int).Set(candidate.DebtToCover),
		Financing:       o.cfg.Financing,
		ExpectedProfit:  candidate.NetProfitUSD,
		SubmittedAt:     o.now().UTC(),
	}

	handle, err := o.submit(ctx, candidate)
	if err != nil {
		log.ErrorContext(ctx, "executor: submission failed", slog.String("error", err.Error()))
		res.Error = domain.ErrSubmissionFailed.Error()
		return o.terminate(ctx, res, domain.ExecFailed), nil
	}
	res.Reference = handle.TxHash.Hex()
	log.InfoContext(ctx, "executor: liquidation submitted",
		slog.String("tx", res.Reference),
		slog.Uint64("nonce", handle.Nonce),
	)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SettlementTimeout)
	defer cancel()
	settlement, err := o.deps.Waiter.AwaitSettlement(waitCtx, handle)
	if err != nil {
		log.ErrorContext(ctx, "executor: settlement wait failed",
			slog.String("tx", res.Reference),
			slog.String("error", err.Error()),
		)
		res.Error = domain.ErrSettlementFailed.Error()
		return o.terminate(ctx, res, domain.ExecFailed), nil
	}

	if settlement.Reference != "" {
		res.Reference = settlement.Reference
	}
	res.GasUsed = settlement.GasUsed
	if settlement.EffectiveGasPrice != nil {
		res.GasCostWei = new(big.Int).Mul(settlement.EffectiveGasPrice, new(big.Int).SetUint64(settlement.GasUsed))
	}
	if !settlement.Success {
		log.WarnContext(ctx, "executor: liquidation reverted",
			slog.String("tx", res.Reference),
			slog.Uint64("block", settlement.BlockNumber),
		)
		res.Error = domain.ErrSettlementFailed.Error()
		return o.terminate(ctx, res, domain.ExecFailed), nil
	}

	res.Success = true
	log.InfoContext(ctx, "executor: liquidation settled",
		slog.String("tx", res.Reference),
		slog.Uint64("block", settlement.BlockNumber),
		slog.Uint64("gas_used", settlement.GasUsed),
	)
	return o.terminate(ctx, res, domain.ExecSettled), nil
}

// begin claims the in-flight slot after checking the cooldown.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return domain.ErrExecutionInFlight
	}
	if !o.lastTerminal.IsZero() && o.now().Sub(o.lastTerminal) < o.cfg.Cooldown {
		return domain.ErrCooldownActive
	}
	o.inFlight = true
	o.state = domain.ExecScanning
	return nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
	o.state = domain.ExecIdle
}

func (o *Orchestrator) setState(s domain.ExecState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// pick returns the first profitable candidate not submitted recently.
func (o *Orchestrator) pick(ranked []domain.ProfitEstimate) (domain.ProfitEstimate, bool) {
	for _, e := range ranked {
		if !e.Profitable || e.DebtToCover == nil || e.DebtToCover.Sign() <= 0 {
			continue
		}
		if o.recent.Recent(e.TargetKey()) {
			o.logger.Debug("executor: skipping recently submitted target", slog.String("target", e.TargetKey()))
			continue
		}
		return e, true
	}
	return domain.ProfitEstimate{}, false
}

// prepareDirect checks the operator balance, then approves the pool.
func (o *Orchestrator) prepareDirect(ctx context.Context, e domain.ProfitEstimate) error {
	balance, err := o.deps.Funder.BalanceOf(ctx, e.DebtAsset)
	if err != nil {
		return fmt.Errorf("executor: balance of %s: %w", e.DebtAsset.Hex(), err)
	}
	if balance.Cmp(e.DebtToCover) < 0 {
		return fmt.Errorf("executor: balance %s below %s: %w", balance, e.DebtToCover, domain.ErrInsufficientBalance)
	}
	if err := o.deps.Funder.EnsureApproval(ctx, e.DebtAsset, e.DebtToCover); err != nil {
		return fmt.Errorf("executor: approve %s: %w", e.DebtAsset.Hex(), err)
	}
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, e domain.ProfitEstimate) (domain.SettlementHandle, error) {
	if o.cfg.Financing == domain.FinancingDirect {
		return o.deps.Submitter.SubmitLiquidation(ctx, domain.LiquidationCall{
			CollateralAsset:   e.CollateralAsset,
			DebtAsset:         e.DebtAsset,
			User:              e.Position.User,
			DebtToCover:       e.DebtToCover,
			ReceiveUnderlying: o.cfg.ReceiveUnderlying,
		})
	}
	params, err := EncodeParams(domain.LiquidationParams{
		CollateralAsset:   e.CollateralAsset,
		DebtAsset:         e.DebtAsset,
		User:              e.Position.User,
		DebtToCover:       e.DebtToCover,
		ReceiveUnderlying: o.cfg.ReceiveUnderlying,
	})
	if err != nil {
		return domain.SettlementHandle{}, err
	}
	return o.deps.Submitter.SubmitFlashLoanLiquidation(ctx, domain.FlashLoanCall{
		Asset:  e.DebtAsset,
		Amount: e.DebtToCover,
		Params: params,
	})
}

// terminate records res and restarts the cooldown from this moment.
func (o *Orchestrator) terminate(ctx context.Context, res domain.ExecutionResult, outcome domain.ExecState) domain.ExecutionResult {
	now := o.now()
	res.Timestamp = now.UTC()

	o.mu.Lock()
	o.state = outcome
	o.lastOutcome = outcome
	o.lastTerminal = now
	stored := res
	o.lastResult = &stored
	o.mu.Unlock()

	o.history.Record(context.WithoutCancel(ctx), res)
	return res
}

// IsGatingError reports whether err is a rejection that consumed no cooldown.
func IsGatingError(err error) bool {
	return errors.Is(err, domain.ErrCooldownActive) ||
		errors.Is(err, domain.ErrExecutionInFlight) ||
		errors.Is(err, domain.ErrNoOpportunity) ||
		errors.Is(err, domain.ErrGasPriceTooHigh) ||
		errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrLockHeld)
}
