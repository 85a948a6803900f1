package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes so several
// bot instances share one price view. Each quote lives at
// "quote:{asset}" with fields oracle, external, market, disc and ts.
// Expiry is delegated to the key TTL.
type QuoteCache struct {
	c *Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c}
}

func (qc *QuoteCache) quoteKey(asset common.Address) string {
	return qc.c.key("quote", strings.ToLower(asset.Hex()))
}

// Put stores quote and sets its TTL.
func (qc *QuoteCache) Put(ctx context.Context, quote domain.PriceQuote, ttl time.Duration) error {
	if quote.OraclePrice == nil {
		return fmt.Errorf("redis: put quote %s: missing oracle price", quote.Asset.Hex())
	}
	key := qc.quoteKey(quote.Asset)

	pipe := qc.c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeQuote(quote))
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put quote %s: %w", quote.Asset.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the quote is missing or has expired.
func (qc *QuoteCache) Get(ctx context.Context, asset common.Address) (domain.PriceQuote, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.quoteKey(asset)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceQuote{}, domain.ErrNotFound
		}
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", asset.Hex(), err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	q, err := decodeQuote(asset, vals)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", asset.Hex(), err)
	}
	return q, nil
}

func encodeQuote(q domain.PriceQuote) map[string]any {
	fields := map[string]any{
		"oracle": q.OraclePrice.String(),
		"ts":     strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	if q.ExternalPrice != nil {
		fields["external"] = q.ExternalPrice.String()
	}
	if q.MarketPrice != nil {
		fields["market"] = q.MarketPrice.String()
	}
	if q.DiscrepancyPct.Valid {
		fields["disc"] = q.DiscrepancyPct.Decimal.String()
	}
	return fields
}

func decodeQuote(asset common.Address, vals map[string]string) (domain.PriceQuote, error) {
	q := domain.PriceQuote{Asset: asset}

	oracle, ok := parseBig(vals["oracle"])
	if !ok {
		return q, fmt.Errorf("bad oracle field %q", vals["oracle"])
	}
	q.OraclePrice = oracle

	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return q, fmt.Errorf("bad ts field: %w", err)
	}
	q.ObservedAt = time.Unix(0, ts)

	if v, ok := parseBig(vals["external"]); ok {
		q.ExternalPrice = v
	}
	if v, ok := parseBig(vals["market"]); ok {
		q.MarketPrice = v
	}
	if s, ok := vals["disc"]; ok {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return q, fmt.Errorf("bad disc field: %w", err)
		}
		q.DiscrepancyPct = decimal.NewNullDecimal(d)
	}
	return q, nil
}

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
