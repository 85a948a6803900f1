package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ExecutionArchiveStore is the slice of the execution store the archiver
// needs.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. It uploads executions older than a
// cutoff as one JSONL object and, when Prune is set, deletes them from the
// primary store after the upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	store  ExecutionArchiveStore
	audit  domain.AuditStore
	prune  bool
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, store ExecutionArchiveStore, audit domain.AuditStore, prune bool) *Archiver {
	return &Archiver{writer: writer, store: store, audit: audit, prune: prune, now: time.Now}
}

// ArchiveExecutions returns how many executions were archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	records := make([]executionRecord, len(results))
	for i, r := range results {
		records[i] = toRecord(r)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before, a.now())
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(results))
	if a.prune {
		if _, err := a.store.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: archive executions prune: %w", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
			"pruned": a.prune,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return count, nil
}

// executionRecord is the archived JSON shape of an ExecutionResult.
type executionRecord struct {
	ID              string    `json:"id"`
	Success         bool      `json:"success"`
	Reference       string    `json:"reference,omitempty"`
	Error           string    `json:"error,omitempty"`
	User            string    `json:"user"`
	DebtAsset       string    `json:"debt_asset"`
	CollateralAsset string    `json:"collateral_asset"`
	DebtToCover     string    `json:"debt_to_cover"`
	Financing       string    `json:"financing"`
	ExpectedProfit  string    `json:"expected_profit_usd"`
	GasUsed         uint64    `json:"gas_used"`
	GasCostWei      string    `json:"gas_cost_wei,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
	Timestamp       time.Time `json:"timestamp"`
}

func toRecord(r domain.ExecutionResult) executionRecord {
	rec := executionRecord{
		ID:              r.ID,
		Success:         r.Success,
		Reference:       r.Reference,
		Error:           r.Error,
		User:            r.User.Hex(),
		DebtAsset:       r.DebtAsset.Hex(),
		CollateralAsset: r.CollateralAsset.Hex(),
		Financing:       string(r.Financing),
		ExpectedProfit:  r.ExpectedProfit.String(),
		GasUsed:         r.GasUsed,
		SubmittedAt:     r.SubmittedAt.UTC(),
		Timestamp:       r.Timestamp.UTC(),
	}
	if r.DebtToCover != nil {
		rec.DebtToCover = r.DebtToCover.String()
	}
	if r.GasCostWei != nil {
		rec.GasCostWei = r.GasCostWei.String()
	}
	return rec
}

// archivePath partitions by the cutoff's month and stamps the run time so
// repeated runs never overwrite each other:
//
//	archive/executions/2025-01/20250201T000000Z.jsonl
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
