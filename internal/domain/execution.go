package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ExecState is a state of the execution orchestrator.
type ExecState string

const (
	ExecIdle          ExecState = "idle"
	ExecScanning      ExecState = "scanning"
	ExecNoOpportunity ExecState = "no_opportunity"
	ExecExecuting     ExecState = "executing"
	ExecSettled       ExecState = "settled"
	ExecFailed        ExecState = "failed"
)

// ExecutionResult is the outcome of one execution attempt that reached
// submission. It is created once and never mutated.
type ExecutionResult struct {
	ID              string          `json:"id"`
	Success         bool            `json:"success"`
	Reference       string          `json:"reference,omitempty"`
	Error           string          `json:"error,omitempty"`
	User            common.Address  `json:"user"`
	DebtAsset       common.Address  `json:"debt_asset"`
	CollateralAsset common.Address  `json:"collateral_asset"`
	DebtToCover     *big.Int        `json:"debt_to_cover"`
	Financing       FinancingPath   `json:"financing"`
	ExpectedProfit  decimal.Decimal `json:"expected_profit_usd"`
	GasUsed         uint64          `json:"gas_used"`
	GasCostWei      *big.Int        `json:"gas_cost_wei,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	Timestamp       time.Time       `json:"timestamp"`
}

// LiquidationParams is the tuple the flash-loan receiver decodes before it
// calls the protocol's liquidation function.
type LiquidationParams struct {
	CollateralAsset   common.Address
	DebtAsset         common.Address
	User              common.Address
	DebtToCover       *big.Int
	ReceiveUnderlying bool
}
