package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteCache stores the latest PriceQuote per asset with a freshness window.
// Get returns ErrNotFound for a missing or expired quote.
type QuoteCache interface {
	Put(ctx context.Context, quote PriceQuote, ttl time.Duration) error
	Get(ctx context.Context, asset common.Address) (PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channels published on the SignalBus.
const (
	ChannelExecution   = "liq:execution"
	ChannelOpportunity = "liq:opportunity"
	ChannelCycle       = "liq:cycle"
	StreamExecutions   = "liq:executions"
)
