package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/liqbot/internal/executor"
	"github.com/alanyoungcy/liqbot/internal/monitor"
)

// StatusSource exposes the orchestrator state.
type StatusSource interface {
	Status() executor.Status
}

// CycleSource exposes the last monitoring cycle.
type CycleSource interface {
	LastReport() monitor.CycleReport
}

// ProfitSummer totals realised profit; the execution store satisfies it.
type ProfitSummer interface {
	SumProfit(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// StatusHandler serves the engine status.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	exec      StatusSource
	cycles    CycleSource
	policies  func() []string
	profits   ProfitSummer
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. exec and profits may be nil in
// modes that never execute.
func NewStatusHandler(mode string, exec StatusSource, cycles CycleSource, policies func() []string, profits ProfitSummer, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		exec:      exec,
		cycles:    cycles,
		policies:  policies,
		profits:   profits,
		logger:    logger,
	}
}

// GetStatus reports mode, executor state, cooldown remaining, the last
// result and the last cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.policies != nil {
		resp["active_policies"] = h.policies()
	}
	if h.cycles != nil {
		resp["last_cycle"] = h.cycles.LastReport()
	}
	if h.exec != nil {
		st := h.exec.Status()
		resp["executor"] = map[string]any{
			"state":                      st.State,
			"last_outcome":               st.LastOutcome,
			"in_flight":                  st.InFlight,
			"cooldown_remaining_seconds": st.CooldownRemaining.Seconds(),
			"last_result":                st.LastResult,
		}
	}
	if h.profits != nil {
		sum, err := h.profits.SumProfit(r.Context(), time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: sum profit failed", slog.String("error", err.Error()))
		} else {
			resp["profit_24h_usd"] = sum.StringFixed(2)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
