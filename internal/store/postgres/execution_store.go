package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
// Amounts travel as text so NUMERIC columns keep full precision.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, success, reference, error, user_address, debt_asset, collateral_asset,
	debt_to_cover::text, financing, expected_profit::text, gas_used, gas_cost_wei::text, submitted_at, completed_at`

// Create inserts one result. Results are immutable, so a duplicate ID is
// ignored.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	var gasCost *string
	if res.GasCostWei != nil {
		v := res.GasCostWei.String()
		gasCost = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, success, reference, error, user_address, debt_asset, collateral_asset,
			debt_to_cover, financing, expected_profit, gas_used, gas_cost_wei, submitted_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10::numeric, $11, $12::numeric, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		res.ID, res.Success, res.Reference, res.Error,
		addrKey(res.User), addrKey(res.DebtAsset), addrKey(res.CollateralAsset),
		bigString(res.DebtToCover), string(res.Financing), res.ExpectedProfit.String(),
		int64(res.GasUsed), gasCost, res.SubmittedAt, res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for an unknown id.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	res, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return res, nil
}

// ListRecent returns up to limit results, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBefore returns every result completed before the cutoff, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE completed_at < $1 ORDER BY completed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	return collectExecutions(rows)
}

// DeleteBefore removes results completed before the cutoff once they have
// been archived.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumProfit totals the expected profit of successful executions since t.
func (s *ExecutionStore) SumProfit(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(expected_profit), 0)::text
		FROM executions WHERE success AND completed_at >= $1`, since,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum profit: %w", err)
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse profit sum %q: %w", total, err)
	}
	return d, nil
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	defer rows.Close()
	var out []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: execution rows: %w", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		res                         domain.ExecutionResult
		user, debt, coll, financing string
		debtToCover, expectedProfit string
		gasCost                     *string
		gasUsed                     int64
	)
	err := row.Scan(&res.ID, &res.Success, &res.Reference, &res.Error, &user, &debt, &coll,
		&debtToCover, &financing, &expectedProfit, &gasUsed, &gasCost, &res.SubmittedAt, &res.Timestamp)
	if err != nil {
		return res, err
	}
	res.User = common.HexToAddress(user)
	res.DebtAsset = common.HexToAddress(debt)
	res.CollateralAsset = common.HexToAddress(coll)
	res.Financing = domain.FinancingPath(financing)
	res.GasUsed = uint64(gasUsed)

	if v, ok := new(big.Int).SetString(debtToCover, 10); ok {
		res.DebtToCover = v
	}
	if gasCost != nil {
		if v, ok := new(big.Int).SetString(*gasCost, 10); ok {
			res.GasCostWei = v
		}
	}
	if res.ExpectedProfit, err = decimal.NewFromString(strings.TrimSpace(expectedProfit)); err != nil {
		return res, fmt.Errorf("parse expected_profit %q: %w", expectedProfit, err)
	}
	return res, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
