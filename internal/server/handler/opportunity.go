package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/monitor"
)

// RankingSource exposes the ranking of the last cycle.
type RankingSource interface {
	Latest() []domain.ProfitEstimate
}

// OpportunityHandler serves the latest ranked opportunities.
type OpportunityHandler struct {
	source RankingSource
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(source RankingSource, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{source: source, logger: logger}
}

// ListOpportunities returns the last ranking, best first. ?profitable=true
// drops estimates that would lose money.
// GET /api/opportunities
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	onlyProfitable := r.URL.Query().Get("profitable") == "true"

	ranked := h.source.Latest()
	out := make([]monitor.Opportunity, 0, min(limit, len(ranked)))
	for _, e := range ranked {
		if len(out) == limit {
			break
		}
		if onlyProfitable && !e.Profitable {
			continue
		}
		out = append(out, monitor.NewOpportunity(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": out})
}
