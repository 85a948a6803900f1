package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

type cachedQuote struct {
	quote     domain.PriceQuote
	expiresAt time.Time
}

// MemoryCache is an in-process domain.QuoteCache. It is safe for concurrent
// use; a Put always replaces the previous quote for the asset.
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[common.Address]cachedQuote
	now    func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		quotes: make(map[common.Address]cachedQuote),
		now:    time.Now,
	}
}

// Put stores quote until ttl elapses.
func (c *MemoryCache) Put(_ context.Context, quote domain.PriceQuote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[quote.Asset] = cachedQuote{quote: quote, expiresAt: c.now().Add(ttl)}
	return nil
}

// Get returns the cached quote or domain.ErrNotFound when it is missing or
// expired.
func (c *MemoryCache) Get(_ context.Context, asset common.Address) (domain.PriceQuote, error) {
	c.mu.RLock()
	entry, ok := c.quotes[asset]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return entry.quote, nil
}

// Purge drops expired entries.
func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, v := range c.quotes {
		if !now.Before(v.expiresAt) {
			delete(c.quotes, k)
		}
	}
}

var _ domain.QuoteCache = (*MemoryCache)(nil)
