package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Empty(t, h.Recent(10))

	for i := 1; i <= 5; i++ {
		h.Record(context.Background(), domain.ExecutionResult{ID: fmt.Sprint(i)})
	}
	require.Equal(t, 3, h.Len())

	got := h.Recent(0)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"5", "4", "3"}, ids)
	assert.Len(t, h.Recent(2), 2)
}
