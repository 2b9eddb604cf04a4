package sync

import (
	"context"
	"math/rand"
	"time"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 2 * time.Minute
)

// backoffDelay returns the delay before the attempt-th retry (1-based):
// exponential growth from backoffBase, capped at backoffMax, with up to 25%
// jitter so the two sources do not hammer their services in lockstep.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffMax {
			delay = backoffMax
			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
