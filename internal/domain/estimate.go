package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FinancingPath selects how the debt repayment is funded.
type FinancingPath string

const (
	FinancingFlashLoan FinancingPath = "flash_loan"
	FinancingDirect    FinancingPath = "direct"
)

// ProfitEstimate evaluates liquidating one (debt, collateral) pair of a
// position. Amounts are raw token units; the *USD fields are in the common
// unit of account. Priority is the only field a strategy boost may rescale.
type ProfitEstimate struct {
	Position             Position
	DebtAsset            common.Address
	CollateralAsset      common.Address
	DebtDecimals         uint8
	CollateralDecimals   uint8
	DebtToCover          *big.Int
	CollateralReceivable *big.Int
	LiquidationBonusBps  uint64
	DebtValueUSD         decimal.Decimal
	CollateralValueUSD   decimal.Decimal
	GrossProfitUSD       decimal.Decimal
	FinancingCostUSD     decimal.Decimal
	GasCostUSD           decimal.Decimal
	NetProfitUSD         decimal.Decimal
	Profitable           bool
	Priority             float64
	Financing            FinancingPath
	EstimatedAt          time.Time
}

// TargetKey identifies the (user, debt, collateral) target of an estimate.
func (e ProfitEstimate) TargetKey() string {
	return e.Position.User.Hex() + ":" + e.DebtAsset.Hex() + ":" + e.CollateralAsset.Hex()
}
