package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// RecentExecutions is the in-memory execution history.
type RecentExecutions interface {
	Recent(n int) []domain.ExecutionResult
}

// ExecutionReader reads persisted executions.
type ExecutionReader interface {
	GetByID(ctx context.Context, id string) (domain.ExecutionResult, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error)
}

// ExecutionHandler serves execution history. The store is preferred when
// configured; otherwise the in-memory ring is used.
type ExecutionHandler struct {
	history RecentExecutions
	store   ExecutionReader
	logger  *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. store may be nil.
func NewExecutionHandler(history RecentExecutions, store ExecutionReader, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{history: history, store: store, logger: logger}
}

// ListExecutions returns the most recent attempts, newest first.
// GET /api/executions
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	if h.store != nil {
		results, err := h.store.ListRecent(r.Context(), limit)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"executions": results})
			return
		}
		logHandler(h.logger, r, "list executions", err)
	}
	var results []domain.ExecutionResult
	if h.history != nil {
		results = h.history.Recent(limit)
	}
	if results == nil {
		results = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": results})
}

// GetExecution returns one attempt by id.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	if h.store != nil {
		res, err := h.store.GetByID(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
			return
		case !errors.Is(err, domain.ErrNotFound):
			logHandler(h.logger, r, "get execution", err)
			writeError(w, http.StatusInternalServerError, "failed to load execution")
			return
		}
	}
	if h.history != nil {
		for _, res := range h.history.Recent(0) {
			if res.ID == id {
				writeJSON(w, http.StatusOK, res)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "execution not found")
}
