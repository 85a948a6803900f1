package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

// ChainlinkFeeds reads USD aggregator feeds as the on-chain market price.
// Assets without a configured feed have no market price.
type ChainlinkFeeds struct {
	client *Client
	feeds  map[common.Address]common.Address
	// maxAge rejects answers older than this; zero accepts any age.
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewChainlinkFeeds creates a reader for asset -> aggregator feeds.
func NewChainlinkFeeds(client *Client, feeds map[common.Address]common.Address, maxAge time.Duration) *ChainlinkFeeds {
	return &ChainlinkFeeds{
		client:   client,
		feeds:    feeds,
		maxAge:   maxAge,
		now:      time.Now,
		decimals: make(map[common.Address]uint8),
	}
}

// ReadMarketPrice implements domain.MarketPriceSource.
func (c *ChainlinkFeeds) ReadMarketPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	feed, ok := c.feeds[asset]
	if !ok {
		return nil, nil
	}
	dec, err := c.feedDecimals(ctx, feed)
	if err != nil {
		return nil, err
	}
	vals, err := c.client.call(ctx, aggregatorABI, feed, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(vals) != 5 {
		return nil, fmt.Errorf("chain: latestRoundData returned %d values: %w", len(vals), domain.ErrReadError)
	}
	answer, err := asBig(vals[1])
	if err != nil {
		return nil, err
	}
	updatedAt, err := asBig(vals[3])
	if err != nil {
		return nil, err
	}
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("chain: feed %s: non-positive answer: %w", feed.Hex(), domain.ErrDataUnavailable)
	}
	if c.maxAge > 0 && c.now().Sub(time.Unix(updatedAt.Int64(), 0)) > c.maxAge {
		return nil, fmt.Errorf("chain: feed %s: stale answer: %w", feed.Hex(), domain.ErrDataUnavailable)
	}
	return rescale(answer, dec, domain.PriceDecimals), nil
}

func (c *ChainlinkFeeds) feedDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	c.mu.Lock()
	d, ok := c.decimals[feed]
	c.mu.Unlock()
	if ok {
		return d, nil
	}
	vals, err := c.client.call(ctx, aggregatorABI, feed, "decimals")
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("chain: decimals returned %d values: %w", len(vals), domain.ErrReadError)
	}
	d, ok = vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals: %w: %T", errUnexpectedType, vals[0])
	}
	c.mu.Lock()
	c.decimals[feed] = d
	c.mu.Unlock()
	return d, nil
}

// rescale converts v from one fixed-point scale to another, truncating.
func rescale(v *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case from > to:
		return out.Quo(out, fixed.Pow10(from-to))
	case from < to:
		return out.Mul(out, fixed.Pow10(to-from))
	default:
		return out
	}
}

var _ domain.MarketPriceSource = (*ChainlinkFeeds)(nil)
