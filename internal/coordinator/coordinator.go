package coordinator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds coordinator settings.
type Config struct {
	TipPolicy    TipPolicy
	TotalTx      int64
	CounterReset time.Duration
}

// Coordinator bundles the shared allocation state used by every submission.
type Coordinator struct {
	nonces  *Nonces
	tips    *Tips
	counter *TxCounter
}

// New creates a coordinator.
func New(cfg Config, source NonceSource) *Coordinator {
	return &Coordinator{
		nonces:  NewNonces(source),
		tips:    NewTips(cfg.TipPolicy, cfg.TotalTx),
		counter: NewTxCounter(cfg.CounterReset),
	}
}

// NextNonce reserves the next nonce for addr.
func (c *Coordinator) NextNonce(ctx context.Context, addr common.Address) (*Reservation, error) {
	return c.nonces.Next(ctx, addr)
}

// NextTip returns the next tip.
func (c *Coordinator) NextTip() uint64 {
	return c.tips.Next()
}

// RecordTransaction counts a transaction and returns the running count.
func (c *Coordinator) RecordTransaction() int64 {
	return c.counter.Record()
}

// Tips exposes the tip source.
func (c *Coordinator) Tips() *Tips {
	return c.tips
}
