package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(context.Background(), path, data, "")
}

type memExecutions struct {
	rows    []domain.ExecutionResult
	deleted bool
}

func (s *memExecutions) ListBefore(_ context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for _, r := range s.rows {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memExecutions) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted = true
	return int64(len(s.rows)), nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func newArchiverFixture(prune bool) (*Archiver, *memWriter, *memExecutions, *memAudit) {
	w := &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
	store := &memExecutions{rows: []domain.ExecutionResult{{
		ID:              "a",
		Success:         true,
		Reference:       "0xabc",
		User:            common.HexToAddress("0x01"),
		DebtAsset:       common.HexToAddress("0x02"),
		CollateralAsset: common.HexToAddress("0x03"),
		DebtToCover:     big.NewInt(9500_000000),
		Financing:       domain.FinancingFlashLoan,
		ExpectedProfit:  decimal.RequireFromString("450.25"),
		Timestamp:       time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}, {
		ID:        "b",
		Error:     "SettlementFailed",
		Timestamp: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	}}}
	audit := &memAudit{}
	a := NewArchiver(w, store, audit, prune)
	a.now = func() time.Time { return time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC) }
	return a, w, store, audit
}

func TestArchiveExecutionsWritesJSONL(t *testing.T) {
	a, w, store, audit := newArchiverFixture(true)
	n, err := a.ArchiveExecutions(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, store.deleted)
	assert.Equal(t, []string{"archive.executions"}, audit.events)

	path := "archive/executions/2025-02/20250201T030000Z.jsonl"
	require.Contains(t, w.objects, path)
	assert.Equal(t, jsonlContentType, w.types[path])

	var lines []executionRecord
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var rec executionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "9500000000", lines[0].DebtToCover)
	assert.Equal(t, "450.25", lines[0].ExpectedProfit)
	assert.Equal(t, "SettlementFailed", lines[1].Error)
}

func TestArchiveExecutionsNothingToDo(t *testing.T) {
	a, w, store, _ := newArchiverFixture(true)
	n, err := a.ArchiveExecutions(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.False(t, store.deleted)
}

func TestArchiveExecutionsUploadFailureKeepsRows(t *testing.T) {
	a, w, store, _ := newArchiverFixture(true)
	w.err = errors.New("denied")
	_, err := a.ArchiveExecutions(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.False(t, store.deleted)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://r2.example", normaliseEndpoint("https://r2.example", false))
}
