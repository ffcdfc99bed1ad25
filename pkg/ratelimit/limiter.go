package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter paces a caller. Wait returns early with ctx.Err() on cancellation.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket allows up to capacity requests per refill period
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// PerMinute returns a bucket admitting n requests per minute, or a no-op limiter when n <= 0
func PerMinute(n int) Limiter {
	if n <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(n, time.Minute)
}

// Allow takes a token if one is available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		untilRefill := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if untilRefill <= 0 {
			untilRefill = 10 * time.Millisecond
		}
		if err := sleep(ctx, untilRefill); err != nil {
			return err
		}
	}
	return nil
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// JitterDelay sleeps a uniformly random duration in [Min, Max] on every Wait
type JitterDelay struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitterDelay creates a randomized delay. Each instance has its own source.
func NewJitterDelay(min, max time.Duration) *JitterDelay {
	if max < min {
		max = min
	}
	return &JitterDelay{
		Min: min,
		Max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next draws the next delay
func (j *JitterDelay) Next() time.Duration {
	span := j.Max - j.Min
	if span <= 0 {
		return j.Min
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Min + time.Duration(j.rng.Int63n(int64(span)+1))
}

// Wait sleeps for the next delay or until ctx is done
func (j *JitterDelay) Wait(ctx context.Context) error {
	return sleep(ctx, j.Next())
}

// Unlimited never blocks
type Unlimited struct{}

// Wait only reports cancellation
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
