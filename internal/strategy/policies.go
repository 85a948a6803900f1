package strategy

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/profit"
)

// Policy names.
const (
	NameBaseline          = "baseline"
	NameOracleDiscrepancy = "oracle_discrepancy"
	NameEMode             = "emode"
)

// Policy produces the boost a named strategy applies for one cycle's snapshot.
type Policy interface {
	Name() string
	Boost(snap profit.Snapshot) Boost
}

// Baseline ranks by unadjusted priority.
type Baseline struct{}

func (Baseline) Name() string { return NameBaseline }

func (Baseline) Boost(profit.Snapshot) Boost { return Identity }

// OracleDiscrepancy favours pairs whose oracle price deviates from the
// external price. When either leg's discrepancy exceeds Threshold (percent),
// priority is multiplied by 1 + (debtDiscrepancy + collateralDiscrepancy)/100.
type OracleDiscrepancy struct {
	Threshold decimal.Decimal
}

func (OracleDiscrepancy) Name() string { return NameOracleDiscrepancy }

func (p OracleDiscrepancy) Boost(snap profit.Snapshot) Boost {
	return func(e domain.ProfitEstimate) domain.ProfitEstimate {
		debtDisc, debtOK := discrepancy(snap, e.DebtAsset)
		collDisc, collOK := discrepancy(snap, e.CollateralAsset)
		if !(debtOK && debtDisc.GreaterThan(p.Threshold)) && !(collOK && collDisc.GreaterThan(p.Threshold)) {
			return e
		}
		factor := decimal.NewFromInt(1).Add(debtDisc.Add(collDisc).Div(decimal.NewFromInt(100)))
		e.Priority *= factor.InexactFloat64()
		return e
	}
}

func discrepancy(snap profit.Snapshot, asset common.Address) (decimal.Decimal, bool) {
	q, ok := snap.Quotes[asset]
	if !ok || !q.DiscrepancyPct.Valid {
		return decimal.Zero, false
	}
	return q.DiscrepancyPct.Decimal, true
}

// EMode multiplies the priority of positions in any E-Mode category.
type EMode struct {
	Multiplier float64
}

func (EMode) Name() string { return NameEMode }

func (p EMode) Boost(profit.Snapshot) Boost {
	m := p.Multiplier
	if m == 0 {
		m = 1.2
	}
	return func(e domain.ProfitEstimate) domain.ProfitEstimate {
		if e.Position.EMode.Enabled() {
			e.Priority *= m
		}
		return e
	}
}
