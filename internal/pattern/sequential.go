package pattern

import (
	"context"

	"github.com/gateway-fm/accessledger/internal/ratelimit"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Sequential sends one request at a time.
type Sequential struct {
	limiter *ratelimit.Limiter
}

// NewSequential creates a sequential mode.
func NewSequential(l *ratelimit.Limiter) *Sequential {
	return &Sequential{limiter: l}
}

// Name returns the mode identifier.
func (s *Sequential) Name() types.TestType {
	return types.TestSequential
}

// Run sends requests 1..total in order, each after the previous one returned.
func (s *Sequential) Run(ctx context.Context, total int, fire Fire) error {
	for n := 1; n <= total; n++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := fire(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
