// Package pricing aggregates price quotes from the protocol oracle and
// independent sources, caches them, and reports oracle discrepancies.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Config tunes the Aggregator.
type Config struct {
	// TTL is how long a quote stays fresh in the cache.
	TTL time.Duration
	// DiscrepancyThreshold is the percentage above which HasDiscrepancy is true.
	DiscrepancyThreshold decimal.Decimal
	// Concurrency bounds parallel external-source fetches in QuoteMany.
	Concurrency int
}

// Aggregator produces PriceQuotes. The oracle is mandatory; the external and
// market sources are optional and their failures never fail a quote.
type Aggregator struct {
	oracle   domain.OracleReader
	external domain.ExternalPriceSource
	market   domain.MarketPriceSource
	cache    domain.QuoteCache
	cfg      Config
	now      func() time.Time
	flight   singleflight.Group
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. external and market may be nil.
func NewAggregator(
	oracle domain.OracleReader,
	external domain.ExternalPriceSource,
	market domain.MarketPriceSource,
	cache domain.QuoteCache,
	cfg Config,
	logger *slog.Logger,
) *Aggregator {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Aggregator{
		oracle:   oracle,
		external: external,
		market:   market,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "price_aggregator")),
	}
}

// Quote returns a fresh quote for asset, served from cache when possible. It
// fails with domain.ErrSourceUnavailable when the oracle cannot be read.
func (a *Aggregator) Quote(ctx context.Context, asset common.Address) (domain.PriceQuote, error) {
	if q, err := a.cache.Get(ctx, asset); err == nil {
		return q, nil
	}

	v, err, _ := a.flight.Do(asset.Hex(), func() (any, error) {
		// The flight is shared; one caller's cancellation must not fail the rest.
		ctx := context.WithoutCancel(ctx)
		price, err := a.oracle.ReadOraclePrice(ctx, asset)
		if err != nil {
			return domain.PriceQuote{}, fmt.Errorf("pricing: oracle %s: %w: %v", asset.Hex(), domain.ErrSourceUnavailable, err)
		}
		if price == nil || price.Sign() <= 0 {
			return domain.PriceQuote{}, fmt.Errorf("pricing: oracle %s returned no price: %w", asset.Hex(), domain.ErrSourceUnavailable)
		}
		return a.complete(ctx, asset, price), nil
	})
	if err != nil {
		return domain.PriceQuote{}, err
	}
	return v.(domain.PriceQuote), nil
}

// QuoteMany returns quotes for all assets that could be priced. Cached quotes
// are reused; the rest share one batched oracle read. Assets that failed are
// absent from the map and the returned error joins their causes.
func (a *Aggregator) QuoteMany(ctx context.Context, assets []common.Address) (map[common.Address]domain.PriceQuote, error) {
	out := make(map[common.Address]domain.PriceQuote, len(assets))
	var missing []common.Address
	seen := make(map[common.Address]bool, len(assets))
	for _, asset := range assets {
		if seen[asset] {
			continue
		}
		seen[asset] = true
		if q, err := a.cache.Get(ctx, asset); err == nil {
			out[asset] = q
			continue
		}
		missing = append(missing, asset)
	}
	if len(missing) == 0 {
		return out, nil
	}

	prices, err := a.oracle.ReadOraclePrices(ctx, missing)
	if err != nil {
		return out, fmt.Errorf("pricing: batched oracle read: %w: %v", domain.ErrSourceUnavailable, err)
	}
	if len(prices) != len(missing) {
		return out, fmt.Errorf("pricing: oracle returned %d prices for %d assets: %w", len(prices), len(missing), domain.ErrSourceUnavailable)
	}

	quotes := make([]domain.PriceQuote, len(missing))
	failed := make([]error, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, asset := range missing {
		if prices[i] == nil || prices[i].Sign() <= 0 {
			failed[i] = fmt.Errorf("pricing: oracle %s returned no price: %w", asset.Hex(), domain.ErrSourceUnavailable)
			continue
		}
		g.Go(func() error {
			quotes[i] = a.complete(gctx, asset, prices[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, asset := range missing {
		if failed[i] != nil {
			continue
		}
		out[asset] = quotes[i]
	}
	return out, errors.Join(failed...)
}

// complete fills the optional fields of a quote, computes the discrepancy and
// stores the result in the cache.
func (a *Aggregator) complete(ctx context.Context, asset common.Address, oraclePrice *big.Int) domain.PriceQuote {
	q := domain.PriceQuote{
		Asset:       asset,
		OraclePrice: new(big.Int).Set(oraclePrice),
		ObservedAt:  a.now(),
	}

	if a.external != nil {
		ext, err := a.external.ReadExternalPrice(ctx, asset)
		if err != nil {
			a.logger.DebugContext(ctx, "external price unavailable",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
		} else if ext != nil {
			q.ExternalPrice = ext
		}
	}
	if a.market != nil {
		mkt, err := a.market.ReadMarketPrice(ctx, asset)
		if err == nil && mkt != nil {
			q.MarketPrice = mkt
		}
	}
	if d, ok := Discrepancy(q.OraclePrice, q.ExternalPrice); ok {
		q.DiscrepancyPct = decimal.NewNullDecimal(d)
	}

	if err := a.cache.Put(ctx, q, a.cfg.TTL); err != nil {
		a.logger.WarnContext(ctx, "quote cache put failed",
			slog.String("asset", asset.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return q
}

// HasDiscrepancy reports whether the latest cached quote for asset deviates
// from its external price by more than the configured threshold. It returns
// false when no quote or no discrepancy figure exists.
func (a *Aggregator) HasDiscrepancy(ctx context.Context, asset common.Address) bool {
	d, ok := a.Discrepancy(ctx, asset)
	if !ok {
		return false
	}
	return d.GreaterThan(a.cfg.DiscrepancyThreshold)
}

// Discrepancy returns the cached discrepancy percentage for asset.
func (a *Aggregator) Discrepancy(ctx context.Context, asset common.Address) (decimal.Decimal, bool) {
	q, err := a.cache.Get(ctx, asset)
	if err != nil || !q.DiscrepancyPct.Valid {
		return decimal.Zero, false
	}
	return q.DiscrepancyPct.Decimal, true
}

// Threshold returns the configured discrepancy threshold percentage.
func (a *Aggregator) Threshold() decimal.Decimal {
	return a.cfg.DiscrepancyThreshold
}

// Discrepancy computes |oracle - external| / external * 100. It is undefined
// (ok=false) unless both prices are present and external is positive.
func Discrepancy(oracle, external *big.Int) (decimal.Decimal, bool) {
	if oracle == nil || external == nil || external.Sign() <= 0 {
		return decimal.Zero, false
	}
	diff := new(big.Int).Sub(oracle, external)
	diff.Abs(diff)
	pct := decimal.NewFromBigInt(diff, 0).
		DivRound(decimal.NewFromBigInt(external, 0), 18).
		Mul(hundred)
	return pct, true
}
