package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceDecimals is the fixed-point scale of every price in a PriceQuote. It
// matches the protocol oracle's base currency unit (USD with 8 decimals).
const PriceDecimals = 8

// PriceQuote is one observation of an asset's price. OraclePrice is the
// protocol's canonical price and is always set. ExternalPrice and MarketPrice
// are nil when their source was unavailable. DiscrepancyPct is only valid when
// both the oracle and a positive external price are present.
type PriceQuote struct {
	Asset          common.Address
	OraclePrice    *big.Int
	ExternalPrice  *big.Int
	MarketPrice    *big.Int
	ObservedAt     time.Time
	DiscrepancyPct decimal.NullDecimal
}

// HasExternal reports whether the external source contributed to this quote.
func (q PriceQuote) HasExternal() bool {
	return q.ExternalPrice != nil
}
