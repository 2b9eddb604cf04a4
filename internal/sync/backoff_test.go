package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	// delay(n) is in [base*2^(n-1), base*2^(n-1)*1.25] until the cap.
	for attempt, base := range map[int]time.Duration{
		1: 500 * time.Millisecond,
		2: 1 * time.Second,
		3: 2 * time.Second,
		4: 4 * time.Second,
	} {
		d := backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/4, "attempt %d", attempt)
	}

	// Far past the cap the delay stays bounded.
	d := backoffDelay(50)
	assert.GreaterOrEqual(t, d, 2*time.Minute)
	assert.LessOrEqual(t, d, 2*time.Minute+30*time.Second)
}

func TestWaitWithContextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := waitWithContext(ctx, 10*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitWithContextZeroDelay(t *testing.T) {
	require.NoError(t, waitWithContext(context.Background(), 0))
}
