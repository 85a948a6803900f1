// Package coingecko is the off-chain price source used to cross-check the
// protocol oracle.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

const rateLimitKey = "coingecko"

// Config configures the Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.coingecko.com/api/v3".
	BaseURL string
	APIKey  string
	// CoinIDs maps token addresses to CoinGecko coin ids.
	CoinIDs map[common.Address]string
	// Refresh is how long one batched response is reused.
	Refresh time.Duration
	Timeout time.Duration
}

// Client fetches USD prices for every configured coin in one request and
// serves individual assets from that batch.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	flight     singleflight.Group
	now        func() time.Time

	mu        sync.RWMutex
	prices    map[string]*big.Int
	fetchedAt time.Time
}

// NewClient creates a Client. limiter may be nil.
func NewClient(cfg Config, limiter domain.RateLimiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Refresh <= 0 {
		cfg.Refresh = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		now:        time.Now,
	}
}

// ReadExternalPrice implements domain.ExternalPriceSource. Assets without a
// configured coin id, or missing from the response, have no price.
func (c *Client) ReadExternalPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	id, ok := c.cfg.CoinIDs[asset]
	if !ok {
		return nil, nil
	}
	prices, err := c.batch(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := prices[id]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(p), nil
}

func (c *Client) batch(ctx context.Context) (map[string]*big.Int, error) {
	c.mu.RLock()
	if c.prices != nil && c.now().Sub(c.fetchedAt) < c.cfg.Refresh {
		p := c.prices
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.flight.Do("batch", func() (any, error) {
		prices, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.prices = prices
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return prices, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*big.Int), nil
}

func (c *Client) fetch(ctx context.Context) (map[string]*big.Int, error) {
	ids := make([]string, 0, len(c.cfg.CoinIDs))
	for _, id := range c.cfg.CoinIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")

	body, err := c.doGet(ctx, "/simple/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko: simple price: %w", err)
	}
	return parseSimplePrice(body)
}

// parseSimplePrice decodes {"<id>":{"usd":<number>}} into 8-decimal prices.
func parseSimplePrice(body []byte) (map[string]*big.Int, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var raw map[string]map[string]json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("coingecko: decode simple price: %w", err)
	}
	out := make(map[string]*big.Int, len(raw))
	for id, quotes := range raw {
		n, ok := quotes["usd"]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil || !d.IsPositive() {
			continue
		}
		out[id] = fixed.FromDecimal(d, domain.PriceDecimals)
	}
	return out, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}

var _ domain.ExternalPriceSource = (*Client)(nil)
