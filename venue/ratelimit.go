// Package venue defines the venue-port contract the core consumes (spec
// section 4.A) and the weighted token-bucket rate limiting every adapter
// carries. TokenBucket is adapted directly from
// 0xtitan6-polymarket-mm/internal/exchange/ratelimit.go's continuous-refill
// design, generalized from Polymarket's fixed three categories to whatever
// weight classes a given venue adapter registers.
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling token bucket. Callers block in
// Wait until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// steady-state refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups an adapter's token buckets by endpoint weight class
// (spec section 4.A: place_order/cancel_order are highest priority;
// market-data calls share a separate bucket).
type RateLimiter struct {
	Orders     *TokenBucket // place_order, cancel_order
	MarketData *TokenBucket // get_orderbook_*, get_funding_rate, load_markets
}

// NewRateLimiter builds a limiter sized from venue docs. Defaults are
// conservative placeholders; adapters override via NewRateLimiterSized.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterSized(50, 10, 20, 5)
}

// NewRateLimiterSized builds a limiter with explicit (capacity, rate) pairs
// per bucket, for venues whose documented limits differ from the default.
func NewRateLimiterSized(orderCap, orderRate, mdCap, mdRate float64) *RateLimiter {
	return &RateLimiter{
		Orders:     NewTokenBucket(orderCap, orderRate),
		MarketData: NewTokenBucket(mdCap, mdRate),
	}
}
