package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ExecutionStore persists the execution history.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	GetByID(ctx context.Context, id string) (ExecutionResult, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
	SumProfit(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// WatchlistEntry is a persisted monitored address.
type WatchlistEntry struct {
	User    common.Address
	Source  string
	AddedAt time.Time
}

// WatchlistStore persists the monitored-address set across restarts.
type WatchlistStore interface {
	Upsert(ctx context.Context, entry WatchlistEntry) error
	Remove(ctx context.Context, user common.Address) error
	List(ctx context.Context) ([]WatchlistEntry, error)
}

// AuditStore records operator actions such as watchlist and policy changes.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
