package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus classifies a borrower position against the watch and
// liquidation thresholds.
type PositionStatus string

const (
	PositionHealthy      PositionStatus = "healthy"
	PositionWatched      PositionStatus = "watched"
	PositionLiquidatable PositionStatus = "liquidatable"
)

// AssetExposure is an immutable snapshot of a borrower's balance in one
// reserve. Amount is raw token units (scaled by 10^Decimals). Bonus and
// threshold are basis points, e.g. 10500 for a 5% liquidation bonus.
type AssetExposure struct {
	Asset                   common.Address
	Symbol                  string
	Amount                  *big.Int
	Decimals                uint8
	IsCollateral            bool
	LiquidationBonusBps     uint64
	LiquidationThresholdBps uint64
}

// Position is a borrower's full exposure as of RefreshedAt. HealthFactor is a
// WAD (1e18 = 1.0, the liquidation boundary). Collateral and debt totals are in
// the protocol's base currency (USD, 8 decimals).
type Position struct {
	User            common.Address
	HealthFactor    *big.Int
	TotalCollateral *big.Int
	TotalDebt       *big.Int
	Collateral      []AssetExposure
	Debt            []AssetExposure
	EMode           EModeCategory
	Status          PositionStatus
	RefreshedAt     time.Time
}

// CollateralFor returns the collateral exposure held in asset, if any.
func (p Position) CollateralFor(asset common.Address) (AssetExposure, bool) {
	for _, c := range p.Collateral {
		if c.Asset == asset {
			return c, true
		}
	}
	return AssetExposure{}, false
}

// DebtFor returns the debt exposure owed in asset, if any.
func (p Position) DebtFor(asset common.Address) (AssetExposure, bool) {
	for _, d := range p.Debt {
		if d.Asset == asset {
			return d, true
		}
	}
	return AssetExposure{}, false
}

// HasExposures reports whether the detailed exposures have been populated.
func (p Position) HasExposures() bool {
	return len(p.Collateral) > 0 || len(p.Debt) > 0
}
