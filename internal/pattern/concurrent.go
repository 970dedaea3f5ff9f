package pattern

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/accessledger/internal/ratelimit"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Concurrent starts every request without waiting for earlier ones.
type Concurrent struct {
	limit   int
	limiter *ratelimit.Limiter
}

// NewConcurrent creates a concurrent mode. A limit of 0 or less is unbounded.
func NewConcurrent(limit int, l *ratelimit.Limiter) *Concurrent {
	return &Concurrent{limit: limit, limiter: l}
}

// Name returns the mode identifier.
func (c *Concurrent) Name() types.TestType {
	return types.TestConcurrent
}

// Run fires all requests and waits for them to finish.
func (c *Concurrent) Run(ctx context.Context, total int, fire Fire) error {
	return fanOut(ctx, 1, total, c.limit, c.limiter, fire)
}

// fanOut fires requests first..last on an errgroup bounded by limit.
func fanOut(ctx context.Context, first, last, limit int, l *ratelimit.Limiter, fire Fire) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for n := first; n <= last; n++ {
		if err := l.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			return fire(gctx, n)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
