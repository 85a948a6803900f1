package monitor

import (
	"time"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Event types carried in an Envelope.
const (
	EventCycle       = "cycle"
	EventOpportunity = "opportunity"
	EventExecution   = "execution"
)

// Envelope is the JSON message published to the signal bus and to
// WebSocket clients.
type Envelope struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// CycleReport summarises one monitoring cycle.
type CycleReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Discovered   int           `json:"discovered"`
	Monitored    int           `json:"monitored"`
	Liquidatable int           `json:"liquidatable"`
	Quoted       int           `json:"quoted"`
	Estimates    int           `json:"estimates"`
	PairErrors   int           `json:"pair_errors"`
	Profitable   int           `json:"profitable"`
	Executed     bool          `json:"executed"`
	ExecSkip     string        `json:"exec_skip,omitempty"`
}

// Opportunity is the JSON view of a ranked estimate.
type Opportunity struct {
	User            string  `json:"user"`
	HealthFactor    string  `json:"health_factor"`
	EMode           string  `json:"emode"`
	DebtAsset       string  `json:"debt_asset"`
	CollateralAsset string  `json:"collateral_asset"`
	DebtToCover     string  `json:"debt_to_cover"`
	Receivable      string  `json:"collateral_receivable"`
	DebtValueUSD    string  `json:"debt_value_usd"`
	CollValueUSD    string  `json:"collateral_value_usd"`
	FinancingUSD    string  `json:"financing_cost_usd"`
	GasUSD          string  `json:"gas_cost_usd"`
	NetProfitUSD    string  `json:"net_profit_usd"`
	Profitable      bool    `json:"profitable"`
	Priority        float64 `json:"priority"`
	Financing       string  `json:"financing"`
}

// NewOpportunity renders e for JSON consumers.
func NewOpportunity(e domain.ProfitEstimate) Opportunity {
	return Opportunity{
		User:            e.Position.User.Hex(),
		HealthFactor:    wadString(e.Position.HealthFactor),
		EMode:           e.Position.EMode.String(),
		DebtAsset:       e.DebtAsset.Hex(),
		CollateralAsset: e.CollateralAsset.Hex(),
		DebtToCover:     bigString(e.DebtToCover),
		Receivable:      bigString(e.CollateralReceivable),
		DebtValueUSD:    e.DebtValueUSD.StringFixed(2),
		CollValueUSD:    e.CollateralValueUSD.StringFixed(2),
		FinancingUSD:    e.FinancingCostUSD.StringFixed(2),
		GasUSD:          e.GasCostUSD.StringFixed(2),
		NetProfitUSD:    e.NetProfitUSD.StringFixed(2),
		Profitable:      e.Profitable,
		Priority:        e.Priority,
		Financing:       string(e.Financing),
	}
}
