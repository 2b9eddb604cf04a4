package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAllowUpToLimit(t *testing.T) {
	storage := NewInMemoryStorage()
	defer storage.Stop()

	limit := Limit{Limit: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		allowed, err := storage.Allow(context.Background(), "calendar", limit)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be within budget", i+1)
	}

	allowed, err := storage.Allow(context.Background(), "calendar", limit)
	require.NoError(t, err)
	assert.False(t, allowed, "fourth request should be throttled")
}

func TestInMemoryKeysAreIndependent(t *testing.T) {
	storage := NewInMemoryStorage()
	defer storage.Stop()

	limit := Limit{Limit: 1, Window: time.Hour}

	allowed, err := storage.Allow(context.Background(), "calendar", limit)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = storage.Allow(context.Background(), "calendar", limit)
	require.NoError(t, err)
	require.False(t, allowed)

	// Exhausting the calendar budget leaves the ledger budget untouched.
	allowed, err = storage.Allow(context.Background(), "ledger", limit)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInMemoryRefillsOverTime(t *testing.T) {
	storage := NewInMemoryStorage()
	defer storage.Stop()

	// High refill rate so the bucket recovers within the test.
	limit := Limit{Limit: 100, Window: 100 * time.Millisecond}

	for i := 0; i < 100; i++ {
		allowed, err := storage.Allow(context.Background(), "ledger", limit)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := storage.Allow(context.Background(), "ledger", limit)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(20 * time.Millisecond)

	allowed, err = storage.Allow(context.Background(), "ledger", limit)
	require.NoError(t, err)
	assert.True(t, allowed, "tokens should refill after waiting")
}

func TestInMemoryRejectsInvalidLimit(t *testing.T) {
	storage := NewInMemoryStorage()
	defer storage.Stop()

	_, err := storage.Allow(context.Background(), "calendar", Limit{Limit: 0, Window: time.Minute})
	assert.Error(t, err)
}
