// Package profit evaluates whether liquidating one (debt, collateral) pair of a
// position pays for itself after financing and gas.
package profit

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

const (
	fullCloseBps = 10_000
	halfCloseBps = 5_000
)

var hundred = decimal.NewFromInt(100)

// Config parameterises the calculator.
type Config struct {
	// CloseFactorThreshold is the health factor (WAD) below which the whole
	// debt may be covered in one call.
	CloseFactorThreshold *big.Int
	// SafetyMarginBps is the share of the close-factor cap actually covered.
	SafetyMarginBps uint64
	// FallbackBonusBps is used when a reserve reports no liquidation bonus.
	FallbackBonusBps uint64
	// MinProfit is the net profit floor in the unit of account.
	MinProfit decimal.Decimal
	// FlashPremiumBps is the flash-loan provider's fee on the borrowed amount.
	FlashPremiumBps uint64
	GasLimitFlash   uint64
	GasLimitDirect  uint64
	// NativeAsset prices gas; its quote must be in every Snapshot.
	NativeAsset common.Address
	Financing   domain.FinancingPath
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		CloseFactorThreshold: fixed.RatioWad(0.95),
		SafetyMarginBps:      9_500,
		FallbackBonusBps:     10_500,
		MinProfit:            decimal.NewFromInt(50),
		FlashPremiumBps:      5,
		GasLimitFlash:        800_000,
		GasLimitDirect:       500_000,
		Financing:            domain.FinancingFlashLoan,
	}
}

// Snapshot is the consistent set of market inputs one cycle evaluates against.
type Snapshot struct {
	Quotes   map[common.Address]domain.PriceQuote
	GasPrice *big.Int
	TakenAt  time.Time
}

// Calculator produces ProfitEstimates. It holds no mutable state.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator, filling zero fields from DefaultConfig.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.CloseFactorThreshold == nil {
		cfg.CloseFactorThreshold = def.CloseFactorThreshold
	}
	if cfg.SafetyMarginBps == 0 {
		cfg.SafetyMarginBps = def.SafetyMarginBps
	}
	if cfg.FallbackBonusBps == 0 {
		cfg.FallbackBonusBps = def.FallbackBonusBps
	}
	if cfg.GasLimitFlash == 0 {
		cfg.GasLimitFlash = def.GasLimitFlash
	}
	if cfg.GasLimitDirect == 0 {
		cfg.GasLimitDirect = def.GasLimitDirect
	}
	if cfg.Financing == "" {
		cfg.Financing = def.Financing
	}
	return &Calculator{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Calculator) Config() Config { return c.cfg }

// CloseFactorBps returns the share of outstanding debt that may be covered at
// health factor hf.
func (c *Calculator) CloseFactorBps(hf *big.Int) uint64 {
	if hf.Cmp(c.cfg.CloseFactorThreshold) < 0 {
		return fullCloseBps
	}
	return halfCloseBps
}

// Estimate evaluates liquidating debtAsset against collateralAsset of pos using
// the prices in snap. It fails with domain.ErrNotLiquidatable when the
// position is at or above the liquidation boundary and with
// domain.ErrDataUnavailable when an exposure, price or the gas price is
// missing.
func (c *Calculator) Estimate(pos domain.Position, debtAsset, collateralAsset common.Address, snap Snapshot) (domain.ProfitEstimate, error) {
	if pos.HealthFactor == nil || pos.HealthFactor.Cmp(fixed.WAD) >= 0 {
		return domain.ProfitEstimate{}, fmt.Errorf("profit: %s: %w", pos.User.Hex(), domain.ErrNotLiquidatable)
	}

	debt, ok := pos.DebtFor(debtAsset)
	if !ok || debt.Amount == nil {
		return domain.ProfitEstimate{}, unavailable("debt exposure", debtAsset)
	}
	coll, ok := pos.CollateralFor(collateralAsset)
	if !ok || coll.Amount == nil {
		return domain.ProfitEstimate{}, unavailable("collateral exposure", collateralAsset)
	}
	debtPrice, err := oraclePrice(snap, debtAsset)
	if err != nil {
		return domain.ProfitEstimate{}, err
	}
	collPrice, err := oraclePrice(snap, collateralAsset)
	if err != nil {
		return domain.ProfitEstimate{}, err
	}
	nativePrice, err := oraclePrice(snap, c.cfg.NativeAsset)
	if err != nil {
		return domain.ProfitEstimate{}, err
	}
	if snap.GasPrice == nil {
		return domain.ProfitEstimate{}, fmt.Errorf("profit: gas price: %w", domain.ErrDataUnavailable)
	}

	// 1-2. close factor, then safety margin
	maxCover := fixed.MulBps(debt.Amount, c.CloseFactorBps(pos.HealthFactor))
	debtToCover := fixed.MulBps(maxCover, c.cfg.SafetyMarginBps)

	// 3. collateral receivable, capped at the borrower's balance
	bonus := coll.LiquidationBonusBps
	if bonus == 0 {
		bonus = c.cfg.FallbackBonusBps
	}
	receivable := CollateralReceivable(debtPrice, debtToCover, debt.Decimals, collPrice, coll.Decimals, bonus)
	if receivable.Cmp(coll.Amount) > 0 && receivable.Sign() > 0 {
		debtToCover = new(big.Int).Mul(debtToCover, coll.Amount)
		debtToCover.Quo(debtToCover, receivable)
		receivable = new(big.Int).Set(coll.Amount)
	}

	// 4. common unit of account
	debtValue := fixed.Value(debtToCover, debt.Decimals, debtPrice, domain.PriceDecimals)
	collValue := fixed.Value(receivable, coll.Decimals, collPrice, domain.PriceDecimals)
	gross := collValue.Sub(debtValue)

	// 5. financing
	financingCost := decimal.Zero
	gasLimit := c.cfg.GasLimitDirect
	if c.cfg.Financing == domain.FinancingFlashLoan {
		financingCost = debtValue.Mul(decimal.NewFromInt(int64(c.cfg.FlashPremiumBps))).Div(decimal.NewFromInt(fixed.BPS))
		gasLimit = c.cfg.GasLimitFlash
	}

	// 6. gas
	gasCost := GasCost(snap.GasPrice, gasLimit, nativePrice)

	// 7-8. net profit and priority
	net := gross.Sub(financingCost).Sub(gasCost)
	profitable := net.GreaterThan(c.cfg.MinProfit)
	var priority float64
	if profitable && debtValue.IsPositive() {
		priority = net.Div(debtValue).Mul(hundred).InexactFloat64()
	}

	estimatedAt := snap.TakenAt
	if estimatedAt.IsZero() {
		estimatedAt = time.Now()
	}

	return domain.ProfitEstimate{
		Position:             pos,
		DebtAsset:            debtAsset,
		CollateralAsset:      collateralAsset,
		DebtDecimals:         debt.Decimals,
		CollateralDecimals:   coll.Decimals,
		DebtToCover:          debtToCover,
		CollateralReceivable: receivable,
		LiquidationBonusBps:  bonus,
		DebtValueUSD:         debtValue,
		CollateralValueUSD:   collValue,
		GrossProfitUSD:       gross,
		FinancingCostUSD:     financingCost,
		GasCostUSD:           gasCost,
		NetProfitUSD:         net,
		Profitable:           profitable,
		Priority:             priority,
		Financing:            c.cfg.Financing,
		EstimatedAt:          estimatedAt,
	}, nil
}

// PairError records a pair that could not be estimated.
type PairError struct {
	User            common.Address
	DebtAsset       common.Address
	CollateralAsset common.Address
	Err             error
}

// EstimateAll evaluates every (debt, collateral) pair of pos. Pairs that fail
// are reported separately and never abort the others. Estimates are returned
// in debt-major, collateral-minor exposure order.
func (c *Calculator) EstimateAll(pos domain.Position, snap Snapshot) ([]domain.ProfitEstimate, []PairError) {
	var (
		out  []domain.ProfitEstimate
		errs []PairError
	)
	for _, d := range pos.Debt {
		for _, col := range pos.Collateral {
			if d.Asset == col.Asset {
				continue
			}
			est, err := c.Estimate(pos, d.Asset, col.Asset, snap)
			if err != nil {
				errs = append(errs, PairError{User: pos.User, DebtAsset: d.Asset, CollateralAsset: col.Asset, Err: err})
				continue
			}
			out = append(out, est)
		}
	}
	return out, errs
}

// CollateralReceivable returns
// debtPrice * debtToCover * 10^collDec * bonusBps / (collPrice * 10^debtDec) / 10000.
func CollateralReceivable(debtPrice, debtToCover *big.Int, debtDec uint8, collPrice *big.Int, collDec uint8, bonusBps uint64) *big.Int {
	if collPrice == nil || collPrice.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(debtPrice, debtToCover)
	num.Mul(num, fixed.Pow10(collDec))
	num.Mul(num, new(big.Int).SetUint64(bonusBps))

	den := new(big.Int).Mul(collPrice, fixed.Pow10(debtDec))
	den.Mul(den, big.NewInt(fixed.BPS))
	return num.Quo(num, den)
}

// GasCost converts gasPrice (wei) * gasLimit into the unit of account using
// the native asset price.
func GasCost(gasPrice *big.Int, gasLimit uint64, nativePrice *big.Int) decimal.Decimal {
	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return fixed.Value(wei, 18, nativePrice, domain.PriceDecimals)
}

func oraclePrice(snap Snapshot, asset common.Address) (*big.Int, error) {
	q, ok := snap.Quotes[asset]
	if !ok || q.OraclePrice == nil || q.OraclePrice.Sign() <= 0 {
		return nil, unavailable("price", asset)
	}
	return q.OraclePrice, nil
}

func unavailable(what string, asset common.Address) error {
	return fmt.Errorf("profit: %s %s: %w", what, asset.Hex(), domain.ErrDataUnavailable)
}
