// Package pattern provides the load generator dispatch modes.
package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/gateway-fm/accessledger/internal/ratelimit"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Fire sends request number n, counted from 1. Per-request failures are the
// caller's to record; a returned error aborts the run.
type Fire func(ctx context.Context, n int) error

// Mode dispatches total requests in some order.
type Mode interface {
	// Name returns the mode identifier.
	Name() types.TestType

	// Run calls fire once per request until total is reached or ctx ends.
	Run(ctx context.Context, total int, fire Fire) error
}

// Config holds mode-specific configuration.
type Config struct {
	// Concurrent mode: max in-flight requests, 0 = unbounded
	Concurrency int

	// Batch mode
	BatchSize int
	BatchWait time.Duration

	// Limiter paces request starts in every mode. Nil is unpaced.
	Limiter *ratelimit.Limiter
}

// Registry manages mode lookup by name.
type Registry struct {
	modes map[types.TestType]func(Config) Mode
}

// NewRegistry creates a registry with the built-in modes.
func NewRegistry() *Registry {
	r := &Registry{
		modes: make(map[types.TestType]func(Config) Mode),
	}

	r.Register(types.TestSequential, func(cfg Config) Mode {
		return NewSequential(cfg.Limiter)
	})
	r.Register(types.TestConcurrent, func(cfg Config) Mode {
		return NewConcurrent(cfg.Concurrency, cfg.Limiter)
	})
	r.Register(types.TestBatch, func(cfg Config) Mode {
		return NewBatch(cfg.BatchSize, cfg.BatchWait, cfg.Limiter)
	})

	return r
}

// Register adds a mode factory to the registry.
func (r *Registry) Register(name types.TestType, factory func(Config) Mode) {
	r.modes[name] = factory
}

// Get returns a mode instance for the given name and config.
func (r *Registry) Get(name types.TestType, cfg Config) (Mode, error) {
	factory, ok := r.modes[name]
	if !ok {
		return nil, fmt.Errorf("unknown mode: %s", name)
	}
	return factory(cfg), nil
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
