package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// BorrowerDiscovery scans the pool's Borrow events for new borrower
// addresses. Each call continues from the block after the previous scan.
type BorrowerDiscovery struct {
	client   *Client
	pool     common.Address
	maxRange uint64
	lookback uint64
	logger   *slog.Logger

	mu   sync.Mutex
	next uint64
}

// NewBorrowerDiscovery creates a discovery source. The first scan starts
// lookback blocks behind the head; each scan covers at most maxRange blocks.
func NewBorrowerDiscovery(client *Client, pool common.Address, lookback, maxRange uint64, logger *slog.Logger) *BorrowerDiscovery {
	if maxRange == 0 {
		maxRange = 2_000
	}
	return &BorrowerDiscovery{
		client:   client,
		pool:     pool,
		maxRange: maxRange,
		lookback: lookback,
		logger:   logger.With(slog.String("component", "borrower_discovery")),
	}
}

// NextBorrowers implements domain.BorrowerSource.
func (d *BorrowerDiscovery) NextBorrowers(ctx context.Context) ([]common.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.client.wait(ctx); err != nil {
		return nil, err
	}
	head, err := d.client.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: block number: %w: %v", domain.ErrReadError, err)
	}
	if d.next == 0 {
		if head > d.lookback {
			d.next = head - d.lookback
		} else {
			d.next = 1
		}
	}
	if d.next > head {
		return nil, nil
	}
	to := min(head, d.next+d.maxRange-1)

	if err := d.client.wait(ctx); err != nil {
		return nil, err
	}
	logs, err := d.client.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(d.next),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{d.pool},
		Topics:    [][]common.Hash{{poolABI.Events["Borrow"].ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter Borrow logs %d-%d: %w: %v", d.next, to, domain.ErrReadError, err)
	}

	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, l := range logs {
		// topics: signature, reserve, onBehalfOf, referralCode
		if len(l.Topics) < 3 {
			continue
		}
		borrower := common.BytesToAddress(l.Topics[2].Bytes())
		if !seen[borrower] {
			seen[borrower] = true
			out = append(out, borrower)
		}
	}
	d.logger.DebugContext(ctx, "chain: scanned Borrow logs",
		slog.Uint64("from", d.next),
		slog.Uint64("to", to),
		slog.Int("borrowers", len(out)),
	)
	d.next = to + 1
	return out, nil
}

var _ domain.BorrowerSource = (*BorrowerDiscovery)(nil)
