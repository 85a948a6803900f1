package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Waiter polls for a transaction receipt and then for the required number of
// confirmations.
type Waiter struct {
	client        *Client
	confirmations uint64
	pollInterval  time.Duration
	logger        *slog.Logger
}

// NewWaiter creates a Waiter. confirmations below one are raised to one.
func NewWaiter(client *Client, confirmations uint64, pollInterval time.Duration, logger *slog.Logger) *Waiter {
	if confirmations == 0 {
		confirmations = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Waiter{
		client:        client,
		confirmations: confirmations,
		pollInterval:  pollInterval,
		logger:        logger.With(slog.String("component", "waiter")),
	}
}

// AwaitSettlement implements domain.SettlementWaiter. A reverted transaction
// is a successful wait with Success=false; an error means the outcome is
// unknown because ctx expired. Transient node read failures are retried on
// the next tick.
func (w *Waiter) AwaitSettlement(ctx context.Context, handle domain.SettlementHandle) (domain.Settlement, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		receipt *types.Receipt
		lastErr error
	)
	for {
		if receipt == nil {
			r, err := w.receipt(ctx, handle)
			switch {
			case errors.Is(err, domain.ErrReadError):
				lastErr = err
				w.logRetry(ctx, handle, err)
			case err != nil:
				return domain.Settlement{}, err
			default:
				receipt = r
			}
		}
		if receipt != nil {
			confirmed, err := w.confirmed(ctx, receipt)
			switch {
			case errors.Is(err, domain.ErrReadError):
				lastErr = err
				w.logRetry(ctx, handle, err)
			case err != nil:
				return domain.Settlement{}, err
			}
			if confirmed {
				return domain.Settlement{
					Success:           receipt.Status == types.ReceiptStatusSuccessful,
					GasUsed:           receipt.GasUsed,
					EffectiveGasPrice: receipt.EffectiveGasPrice,
					Reference:         receipt.TxHash.Hex(),
					BlockNumber:       receipt.BlockNumber.Uint64(),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return domain.Settlement{}, fmt.Errorf("chain: await %s: %w (last read: %v)", handle.TxHash.Hex(), ctx.Err(), lastErr)
			}
			return domain.Settlement{}, fmt.Errorf("chain: await %s: %w", handle.TxHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *Waiter) logRetry(ctx context.Context, handle domain.SettlementHandle, err error) {
	w.logger.WarnContext(ctx, "chain: settlement poll failed, retrying",
		slog.String("tx", handle.TxHash.Hex()),
		slog.String("error", err.Error()),
	)
}

func (w *Waiter) receipt(ctx context.Context, handle domain.SettlementHandle) (*types.Receipt, error) {
	if err := w.client.wait(ctx); err != nil {
		return nil, err
	}
	r, err := w.client.backend.TransactionReceipt(ctx, handle.TxHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain: receipt %s: %w: %v", handle.TxHash.Hex(), domain.ErrReadError, err)
	}
	return r, nil
}

// confirmed reports whether head - receipt block + 1 >= confirmations.
func (w *Waiter) confirmed(ctx context.Context, receipt *types.Receipt) (bool, error) {
	if receipt.BlockNumber == nil {
		return false, nil
	}
	if err := w.client.wait(ctx); err != nil {
		return false, err
	}
	head, err := w.client.backend.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("chain: block number: %w: %v", domain.ErrReadError, err)
	}
	block := receipt.BlockNumber.Uint64()
	if head < block {
		return false, nil
	}
	return head-block+1 >= w.confirmations, nil
}

var _ domain.SettlementWaiter = (*Waiter)(nil)
