package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/strategy"
)

// PolicyRegistry is the registry surface the strategy endpoints need.
type PolicyRegistry interface {
	ListInfo() []strategy.PolicyInfo
	Active() []string
	SetActive(names ...string) error
}

// StrategyHandler serves the ranking-policy endpoints.
type StrategyHandler struct {
	registry PolicyRegistry
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. audit may be nil.
func NewStrategyHandler(registry PolicyRegistry, audit domain.AuditStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{registry: registry, audit: audit, logger: logger}
}

// ListStrategies returns every registered policy and whether it is active.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": h.registry.ListInfo(),
		"active":     h.registry.Active(),
	})
}

type setActiveRequest struct {
	Active []string `json:"active"`
}

// SetActive replaces the active policy chain.
// PUT /api/strategies/active {"active":["baseline","emode"]}
func (h *StrategyHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.registry.SetActive(req.Active...); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logHandler(h.logger, r, "set active policies", err)
		writeError(w, http.StatusInternalServerError, "failed to set active policies")
		return
	}

	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "strategy.set_active", map[string]any{"active": req.Active}); err != nil {
			logHandler(h.logger, r, "audit log", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": h.registry.Active()})
}
