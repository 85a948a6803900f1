package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// ReserveCatalog is the cached reserve-configuration table.
type ReserveCatalog interface {
	Assets() []common.Address
	Lookup(asset common.Address) (domain.ReserveConfig, bool)
	Reload(ctx context.Context) error
}

// ReserveHandler serves the reserve table and its explicit reload.
type ReserveHandler struct {
	reserves ReserveCatalog
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewReserveHandler creates a ReserveHandler. audit may be nil.
func NewReserveHandler(reserves ReserveCatalog, audit domain.AuditStore, logger *slog.Logger) *ReserveHandler {
	return &ReserveHandler{reserves: reserves, audit: audit, logger: logger}
}

type reserveView struct {
	Asset                   string `json:"asset"`
	Symbol                  string `json:"symbol,omitempty"`
	Decimals                uint8  `json:"decimals"`
	LTVBps                  uint64 `json:"ltv_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `json:"liquidation_bonus_bps"`
	CollateralEnabled       bool   `json:"collateral_enabled"`
}

func (h *ReserveHandler) views() []reserveView {
	assets := h.reserves.Assets()
	out := make([]reserveView, 0, len(assets))
	for _, a := range assets {
		v := reserveView{Asset: a.Hex()}
		if cfg, ok := h.reserves.Lookup(a); ok {
			v.Symbol = cfg.Symbol
			v.Decimals = cfg.Decimals
			v.LTVBps = cfg.LTVBps
			v.LiquidationThresholdBps = cfg.LiquidationThresholdBps
			v.LiquidationBonusBps = cfg.LiquidationBonusBps
			v.CollateralEnabled = cfg.CollateralEnabled
		}
		out = append(out, v)
	}
	return out
}

// ListReserves returns the cached reserve configurations.
// GET /api/reserves
func (h *ReserveHandler) ListReserves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reserves": h.views()})
}

// Reload drops the cached reserve table and reads it again from the protocol.
// POST /api/reserves/reload
func (h *ReserveHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.reserves.Reload(r.Context()); err != nil {
		logHandler(h.logger, r, "reload reserves", err)
		writeError(w, http.StatusBadGateway, "reserve reload failed: "+err.Error())
		return
	}
	views := h.views()
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "reserves.reload", map[string]any{"reserves": len(views)}); err != nil {
			h.logger.WarnContext(r.Context(), "handler: audit log failed",
				slog.String("event", "reserves.reload"),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "reserves": views})
}
