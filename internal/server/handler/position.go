package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

// PositionTracker is the tracker surface the position endpoints need.
type PositionTracker interface {
	Snapshots() []domain.Position
	Monitored() []common.Address
	Subscribe(ctx context.Context, user common.Address, source string)
	Unsubscribe(ctx context.Context, user common.Address) bool
}

// PositionHandler serves the monitored set and the watchlist endpoints.
type PositionHandler struct {
	tracker PositionTracker
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler. audit may be nil.
func NewPositionHandler(tracker PositionTracker, audit domain.AuditStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{tracker: tracker, audit: audit, logger: logger}
}

type exposureView struct {
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol,omitempty"`
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
	BonusBps uint64 `json:"liquidation_bonus_bps,omitempty"`
}

type positionView struct {
	User            string         `json:"user"`
	HealthFactor    string         `json:"health_factor"`
	Status          string         `json:"status"`
	EMode           string         `json:"emode"`
	TotalCollateral string         `json:"total_collateral_usd"`
	TotalDebt       string         `json:"total_debt_usd"`
	Collateral      []exposureView `json:"collateral"`
	Debt            []exposureView `json:"debt"`
	RefreshedAt     time.Time      `json:"refreshed_at"`
}

func newPositionView(p domain.Position) positionView {
	v := positionView{
		User:            p.User.Hex(),
		HealthFactor:    fixed.WadToDecimal(p.HealthFactor).StringFixed(4),
		Status:          string(p.Status),
		EMode:           p.EMode.String(),
		TotalCollateral: fixed.ToDecimal(p.TotalCollateral, domain.PriceDecimals).StringFixed(2),
		TotalDebt:       fixed.ToDecimal(p.TotalDebt, domain.PriceDecimals).StringFixed(2),
		Collateral:      make([]exposureView, 0, len(p.Collateral)),
		Debt:            make([]exposureView, 0, len(p.Debt)),
		RefreshedAt:     p.RefreshedAt,
	}
	for _, e := range p.Collateral {
		v.Collateral = append(v.Collateral, newExposureView(e))
	}
	for _, e := range p.Debt {
		v.Debt = append(v.Debt, newExposureView(e))
	}
	return v
}

func newExposureView(e domain.AssetExposure) exposureView {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return exposureView{
		Asset:    e.Asset.Hex(),
		Symbol:   e.Symbol,
		Amount:   amount,
		Decimals: e.Decimals,
		BonusBps: e.LiquidationBonusBps,
	}
}

// ListPositions returns the monitored positions, riskiest first, plus every
// monitored address including those not read yet.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	snaps := h.tracker.Snapshots()
	views := make([]positionView, 0, len(snaps))
	for _, p := range snaps {
		views = append(views, newPositionView(p))
	}
	addrs := h.tracker.Monitored()
	monitored := make([]string, 0, len(addrs))
	for _, a := range addrs {
		monitored = append(monitored, a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": views,
		"monitored": monitored,
	})
}

type subscribeRequest struct {
	Address string `json:"address"`
}

// Subscribe adds an address to the monitored set.
// POST /api/watchlist {"address":"0x..."}
func (h *PositionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	user, ok := parseAddress(req.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "address must be a hex account address")
		return
	}
	h.tracker.Subscribe(r.Context(), user, "api")
	h.record(r.Context(), "watchlist.subscribe", user)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "subscribed", "address": user.Hex()})
}

// Unsubscribe removes an address from the monitored set.
// DELETE /api/watchlist/{address}
func (h *PositionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "address must be a hex account address")
		return
	}
	if !h.tracker.Unsubscribe(r.Context(), user) {
		writeError(w, http.StatusNotFound, "address is not monitored")
		return
	}
	h.record(r.Context(), "watchlist.unsubscribe", user)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed", "address": user.Hex()})
}

func (h *PositionHandler) record(ctx context.Context, event string, user common.Address) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, map[string]any{"address": user.Hex()}); err != nil {
		h.logger.WarnContext(ctx, "handler: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
