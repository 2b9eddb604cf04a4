// Package ratelimit throttles outbound calls to the external services. Each
// adapter consumes from its own bucket before issuing a request, keeping us
// under the calendar and ledger quota instead of discovering them as 429s.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limit is a request budget over a sliding window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Storage is a token bucket backend. The in-memory implementation serves a
// single process; the Redis one coordinates replicas.
type Storage interface {
	Allow(ctx context.Context, key string, limit Limit) (bool, error)
}

// tokenBucket represents a single token bucket for rate limiting.
type tokenBucket struct {
	mu             sync.Mutex
	tokens         float64
	lastRefill     time.Time
	capacity       float64
	refillRate     float64 // tokens per second
	windowDuration time.Duration
}

// consume attempts to consume the requested number of tokens.
// Returns true if tokens were available and consumed, false otherwise.
func (tb *tokenBucket) consume(tokens float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()

	elapsed := now.Sub(tb.lastRefill).Seconds()
	tokensToAdd := elapsed * tb.refillRate
	tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
	tb.lastRefill = now

	if tb.tokens >= tokens {
		tb.tokens -= tokens
		return true
	}

	return false
}

// InMemoryStorage implements Storage using in-memory token buckets.
type InMemoryStorage struct {
	mu          sync.RWMutex
	buckets     map[string]*tokenBucket
	cleanup     *time.Ticker
	stopCleanup chan struct{}
}

// NewInMemoryStorage creates a new in-memory rate limiter storage.
// It includes a background cleanup goroutine to remove unused buckets.
func NewInMemoryStorage() *InMemoryStorage {
	storage := &InMemoryStorage{
		buckets:     make(map[string]*tokenBucket),
		cleanup:     time.NewTicker(5 * time.Minute),
		stopCleanup: make(chan struct{}),
	}

	go storage.cleanupUnusedBuckets()

	return storage
}

// Stop stops the background cleanup goroutine. Call this when shutting down.
func (s *InMemoryStorage) Stop() {
	s.cleanup.Stop()
	close(s.stopCleanup)
}

// Allow checks if a request is allowed and consumes a token if available.
func (s *InMemoryStorage) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	if limit.Limit <= 0 || limit.Window <= 0 {
		return false, fmt.Errorf("invalid rate limit %d per %s", limit.Limit, limit.Window)
	}

	s.mu.Lock()
	bucket, exists := s.buckets[key]
	if !exists {
		bucket = newTokenBucket(float64(limit.Limit), limit.Window)
		s.buckets[key] = bucket
	}
	s.mu.Unlock()

	return bucket.consume(1), nil
}

// newTokenBucket creates a new token bucket with the given capacity and window duration.
func newTokenBucket(capacity float64, windowDuration time.Duration) *tokenBucket {
	now := time.Now()
	refillRate := capacity / windowDuration.Seconds()

	return &tokenBucket{
		tokens:         capacity,
		lastRefill:     now,
		capacity:       capacity,
		refillRate:     refillRate,
		windowDuration: windowDuration,
	}
}

// cleanupUnusedBuckets periodically removes buckets that haven't been used recently.
func (s *InMemoryStorage) cleanupUnusedBuckets() {
	for {
		select {
		case <-s.cleanup.C:
			s.mu.Lock()
			now := time.Now()
			for key, bucket := range s.buckets {
				bucket.mu.Lock()
				unusedDuration := now.Sub(bucket.lastRefill)
				if unusedDuration > bucket.windowDuration*2 {
					delete(s.buckets, key)
				}
				bucket.mu.Unlock()
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}
