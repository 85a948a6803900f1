package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

// PriceSource is the price aggregator surface the price endpoint needs.
type PriceSource interface {
	Quote(ctx context.Context, asset common.Address) (domain.PriceQuote, error)
	HasDiscrepancy(ctx context.Context, asset common.Address) bool
	Threshold() decimal.Decimal
}

// PriceHandler serves per-asset price quotes.
type PriceHandler struct {
	prices PriceSource
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceSource, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

type quoteView struct {
	Asset          string    `json:"asset"`
	OraclePrice    string    `json:"oracle_price_usd"`
	ExternalPrice  string    `json:"external_price_usd,omitempty"`
	MarketPrice    string    `json:"market_price_usd,omitempty"`
	DiscrepancyPct string    `json:"discrepancy_pct,omitempty"`
	HasDiscrepancy bool      `json:"has_discrepancy"`
	ThresholdPct   string    `json:"threshold_pct"`
	ObservedAt     time.Time `json:"observed_at"`
}

func priceString(p *big.Int) string {
	if p == nil {
		return ""
	}
	return fixed.ToDecimal(p, domain.PriceDecimals).String()
}

// GetPrice returns the current quote for one asset.
// GET /api/prices/{asset}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddress(r.PathValue("asset"))
	if !ok {
		writeError(w, http.StatusBadRequest, "asset must be a hex token address")
		return
	}

	q, err := h.prices.Quote(r.Context(), asset)
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "oracle price unavailable")
			return
		}
		logHandler(h.logger, r, "get price", err)
		writeError(w, http.StatusInternalServerError, "failed to quote asset")
		return
	}

	v := quoteView{
		Asset:          asset.Hex(),
		OraclePrice:    priceString(q.OraclePrice),
		ExternalPrice:  priceString(q.ExternalPrice),
		MarketPrice:    priceString(q.MarketPrice),
		HasDiscrepancy: h.prices.HasDiscrepancy(r.Context(), asset),
		ThresholdPct:   h.prices.Threshold().String(),
		ObservedAt:     q.ObservedAt,
	}
	if q.DiscrepancyPct.Valid {
		v.DiscrepancyPct = q.DiscrepancyPct.Decimal.StringFixed(4)
	}
	writeJSON(w, http.StatusOK, v)
}
