package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountSummary is the protocol's aggregate view of a borrower. Values are
// in base currency units; HealthFactor is a WAD.
type AccountSummary struct {
	TotalCollateralBase *big.Int
	TotalDebtBase       *big.Int
	HealthFactor        *big.Int
}

// UserReserve is a borrower's raw balances in one reserve.
type UserReserve struct {
	Asset             common.Address
	CollateralBalance *big.Int
	StableDebt        *big.Int
	VariableDebt      *big.Int
	UsageAsCollateral bool
}

// TotalDebt returns stable plus variable debt.
func (r UserReserve) TotalDebt() *big.Int {
	total := new(big.Int)
	if r.StableDebt != nil {
		total.Add(total, r.StableDebt)
	}
	if r.VariableDebt != nil {
		total.Add(total, r.VariableDebt)
	}
	return total
}

// ReserveConfig is the rarely-changing per-asset configuration. LTV,
// threshold and bonus are basis points.
type ReserveConfig struct {
	Asset                   common.Address
	Symbol                  string
	Decimals                uint8
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	CollateralEnabled       bool
}

// ProtocolReader reads lending-protocol state. Failures wrap ErrReadError.
type ProtocolReader interface {
	ReadAccountSummary(ctx context.Context, user common.Address) (AccountSummary, error)
	ReadDetailedReserves(ctx context.Context, user common.Address) ([]UserReserve, error)
	ReadReserveConfig(ctx context.Context, asset common.Address) (ReserveConfig, error)
	ReadReservesList(ctx context.Context) ([]common.Address, error)
	ReadUserEMode(ctx context.Context, user common.Address) (uint8, error)
}

// OracleReader reads the protocol's canonical prices (PriceDecimals scale).
type OracleReader interface {
	ReadOraclePrice(ctx context.Context, asset common.Address) (*big.Int, error)
	ReadOraclePrices(ctx context.Context, assets []common.Address) ([]*big.Int, error)
}

// ExternalPriceSource is a best-effort independent price. A nil price with a
// nil error means the source has no price for the asset.
type ExternalPriceSource interface {
	ReadExternalPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// MarketPriceSource is an optional on-chain market price (PriceDecimals scale).
type MarketPriceSource interface {
	ReadMarketPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// LiquidationCall is the argument set of the protocol's liquidation function.
type LiquidationCall struct {
	CollateralAsset   common.Address
	DebtAsset         common.Address
	User              common.Address
	DebtToCover       *big.Int
	ReceiveUnderlying bool
}

// FlashLoanCall asks the financed-execution contract to borrow Amount of Asset
// and run the liquidation encoded in Params.
type FlashLoanCall struct {
	Asset  common.Address
	Amount *big.Int
	Params []byte
}

// SettlementHandle is the opaque reference to a submitted transaction.
type SettlementHandle struct {
	TxHash      common.Hash
	Nonce       uint64
	SubmittedAt time.Time
}

// Settlement is the confirmed outcome of a submitted transaction.
type Settlement struct {
	Success           bool
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Reference         string
	BlockNumber       uint64
}

// LiquidationSubmitter submits liquidation transactions.
type LiquidationSubmitter interface {
	SubmitLiquidation(ctx context.Context, call LiquidationCall) (SettlementHandle, error)
	SubmitFlashLoanLiquidation(ctx context.Context, call FlashLoanCall) (SettlementHandle, error)
}

// SettlementWaiter blocks until a submitted transaction is confirmed.
type SettlementWaiter interface {
	AwaitSettlement(ctx context.Context, handle SettlementHandle) (Settlement, error)
}

// GasOracle reports the current network gas price in wei.
type GasOracle interface {
	CurrentGasPrice(ctx context.Context) (*big.Int, error)
}

// DirectFunder manages the operator's own balance for the direct path.
type DirectFunder interface {
	BalanceOf(ctx context.Context, asset common.Address) (*big.Int, error)
	EnsureApproval(ctx context.Context, asset common.Address, amount *big.Int) error
}

// BorrowerSource yields borrower addresses seen since the previous call.
type BorrowerSource interface {
	NextBorrowers(ctx context.Context) ([]common.Address, error)
}
