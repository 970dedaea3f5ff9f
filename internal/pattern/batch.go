package pattern

import (
	"context"
	"time"

	"github.com/gateway-fm/accessledger/internal/ratelimit"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Batch sends groups of requests concurrently, pausing between groups.
type Batch struct {
	size    int
	wait    time.Duration
	limiter *ratelimit.Limiter
}

// NewBatch creates a batch mode. A size below 1 sends one request per batch.
func NewBatch(size int, wait time.Duration, l *ratelimit.Limiter) *Batch {
	if size < 1 {
		size = 1
	}
	return &Batch{size: size, wait: wait, limiter: l}
}

// Name returns the mode identifier.
func (b *Batch) Name() types.TestType {
	return types.TestBatch
}

// Run sends each batch, waits for it to complete, then pauses before the next one.
func (b *Batch) Run(ctx context.Context, total int, fire Fire) error {
	for first := 1; first <= total; first += b.size {
		last := min(first+b.size-1, total)
		if err := fanOut(ctx, first, last, 0, b.limiter, fire); err != nil {
			return err
		}
		if last < total {
			if err := sleep(ctx, b.wait); err != nil {
				return err
			}
		}
	}
	return nil
}
