package process

import (
	"context"
	"time"
)

// Tick calls fn every interval until ctx is done. It blocks.
func Tick(ctx context.Context, tp TimeProvider, interval time.Duration, fn func()) {
	ticker := getTimeProvider(tp).NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
