package engine

import (
	"context"
	"time"
)

// runSampler drains counter every interval and forwards the reading to out
// until ctx is done. It is the only reader that resets the counter.
func runSampler(ctx context.Context, interval time.Duration, counter *ByteCounter, out chan<- tick) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reading := tick{at: now, bytes: counter.Drain()}
			select {
			case out <- reading:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
