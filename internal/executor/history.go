package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// History is the append-only execution log: a bounded in-memory ring plus an
// optional durable store.
type History struct {
	mu     sync.RWMutex
	ring   []domain.ExecutionResult
	next   int
	full   bool
	store  domain.ExecutionStore
	logger *slog.Logger
}

// NewHistory creates a History keeping the last capacity results in memory.
// store may be nil.
func NewHistory(capacity int, store domain.ExecutionStore, logger *slog.Logger) *History {
	if capacity <= 0 {
		capacity = 256
	}
	return &History{
		ring:   make([]domain.ExecutionResult, capacity),
		store:  store,
		logger: logger,
	}
}

// Record appends res. A store failure is logged; the in-memory entry is kept.
func (h *History) Record(ctx context.Context, res domain.ExecutionResult) {
	h.mu.Lock()
	h.ring[h.next] = res
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	if h.store == nil {
		return
	}
	if err := h.store.Create(ctx, res); err != nil {
		h.logger.WarnContext(ctx, "executor: persist execution result failed",
			slog.String("id", res.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns up to n results, newest first.
func (h *History) Recent(n int) []domain.ExecutionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.full {
		size = len(h.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.ExecutionResult, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}

// Len returns the number of results held in memory.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.ring)
	}
	return h.next
}
