// Package ratelimit paces load generator request starts.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues permits no faster than a target rate by tracking the next
// available permit time. There is no burst allowance.
//
// A nil *Limiter is unpaced: Wait only reports context cancellation.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration
	issued         int64
}

// New creates a Limiter issuing ratePerSec permits per second.
// A rate of zero or less returns nil, the unpaced limiter.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return &Limiter{
		nextPermitTime: time.Now(),
		interval:       time.Duration(float64(time.Second) / ratePerSec),
	}
}

// Wait blocks until a permit is available or ctx is done.
// A cancelled wait hands its slot back when no later permit was reserved after it.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	if l.nextPermitTime.Before(now) {
		// behind schedule: start from now instead of catching up in a burst
		l.nextPermitTime = now
	}
	permitTime := l.nextPermitTime
	l.nextPermitTime = permitTime.Add(l.interval)
	l.mu.Unlock()

	wait := permitTime.Sub(now)
	if wait <= 0 {
		return l.grant(ctx)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.release(permitTime)
		return ctx.Err()
	case <-timer.C:
		return l.grant(ctx)
	}
}

func (l *Limiter) grant(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.issued++
	l.mu.Unlock()
	return nil
}

// release returns the slot at permitTime if it is still the most recent reservation.
func (l *Limiter) release(permitTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextPermitTime.Equal(permitTime.Add(l.interval)) {
		l.nextPermitTime = permitTime
	}
}

// Rate returns the configured rate in permits per second, or 0 when unpaced.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(time.Second) / float64(l.interval)
}

// Issued returns the number of permits granted so far.
func (l *Limiter) Issued() int64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.issued
}
