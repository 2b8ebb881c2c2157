package queue

import (
	"context"
	"sync/atomic"
	"time"
)

// TokenBucket grants up to capacity permits per interval. The bucket is
// refilled to capacity once the interval has elapsed since the last refill.
// All methods are lock-free and safe for concurrent use.
type TokenBucket struct {
	capacity int64
	interval time.Duration
	now      func() time.Time

	tokens     atomic.Int64
	lastRefill atomic.Int64 // unix nanoseconds
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity int, interval time.Duration) *TokenBucket {
	b := &TokenBucket{
		capacity: int64(capacity),
		interval: interval,
		now:      time.Now,
	}
	b.tokens.Store(b.capacity)
	b.lastRefill.Store(b.now().UnixNano())
	return b
}

func (b *TokenBucket) refill(now int64) {
	last := b.lastRefill.Load()
	if now-last < int64(b.interval) {
		return
	}
	// Only the goroutine winning the swap refills.
	if b.lastRefill.CompareAndSwap(last, now) {
		b.tokens.Store(b.capacity)
	}
}

// TryAcquire takes one token. When the bucket is empty it reports how long
// remains until the next refill.
func (b *TokenBucket) TryAcquire() (bool, time.Duration) {
	for {
		now := b.now().UnixNano()
		b.refill(now)

		cur := b.tokens.Load()
		if cur > 0 {
			if b.tokens.CompareAndSwap(cur, cur-1) {
				return true, 0
			}
			continue
		}

		wait := time.Duration(b.lastRefill.Load() + int64(b.interval) - now)
		if wait > 0 {
			return false, wait
		}
	}
}

// Acquire blocks until a token is available or ctx is done.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		ok, wait := b.TryAcquire()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available returns the tokens left in the current interval.
func (b *TokenBucket) Available() int {
	return int(b.tokens.Load())
}
