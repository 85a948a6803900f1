package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// WatchlistStore implements domain.WatchlistStore. Addresses are stored
// lower-cased so lookups are case-insensitive.
type WatchlistStore struct {
	pool *pgxpool.Pool
}

// NewWatchlistStore creates a new WatchlistStore.
func NewWatchlistStore(pool *pgxpool.Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// Upsert inserts entry or keeps the existing row's source and timestamp.
func (s *WatchlistStore) Upsert(ctx context.Context, entry domain.WatchlistEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchlist (user_address, source, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_address) DO NOTHING`,
		addrKey(entry.User), entry.Source, entry.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert watchlist %s: %w", entry.User.Hex(), err)
	}
	return nil
}

// Remove deletes user. Removing an absent user is not an error.
func (s *WatchlistStore) Remove(ctx context.Context, user common.Address) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE user_address = $1`, addrKey(user)); err != nil {
		return fmt.Errorf("postgres: remove watchlist %s: %w", user.Hex(), err)
	}
	return nil
}

// List returns every persisted entry, oldest first.
func (s *WatchlistStore) List(ctx context.Context) ([]domain.WatchlistEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_address, source, added_at FROM watchlist ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watchlist: %w", err)
	}
	defer rows.Close()

	var out []domain.WatchlistEntry
	for rows.Next() {
		var (
			e    domain.WatchlistEntry
			addr string
		)
		if err := rows.Scan(&addr, &e.Source, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watchlist: %w", err)
		}
		if !common.IsHexAddress(addr) {
			continue
		}
		e.User = common.HexToAddress(addr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list watchlist rows: %w", err)
	}
	return out, nil
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

var _ domain.WatchlistStore = (*WatchlistStore)(nil)
