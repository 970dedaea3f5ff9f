package coordinator

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// TipPolicy selects how tips are drawn.
type TipPolicy int

const (
	// TipDecremental hands out T, T-1, ..., 1, then 0 forever.
	TipDecremental TipPolicy = iota
	// TipRandom draws uniformly from [1, T] on every call.
	TipRandom
)

// String returns the policy name.
func (p TipPolicy) String() string {
	if p == TipRandom {
		return "random"
	}
	return "decremental"
}

// Tips produces the priority tip attached to each transaction.
// Earlier requests get larger tips in decremental mode so the ledger orders them first.
type Tips struct {
	policy TipPolicy
	total  int64
	remain int64
}

// NewTips creates a tip source for total expected transactions.
func NewTips(policy TipPolicy, total int64) *Tips {
	if total < 0 {
		total = 0
	}
	return &Tips{policy: policy, total: total, remain: total}
}

// Next returns the tip for the next transaction.
func (t *Tips) Next() uint64 {
	if t.policy == TipRandom {
		if t.total <= 0 {
			return 0
		}
		return uint64(rand.Int64N(t.total)) + 1
	}
	return uint64(takeSaturating(&t.remain))
}

// Remaining returns the current decremental counter.
func (t *Tips) Remaining() int64 {
	return atomic.LoadInt64(&t.remain)
}

// Policy returns the configured policy.
func (t *Tips) Policy() TipPolicy {
	return t.policy
}

// takeSaturating atomically decrements *addr with a floor of 0 and returns the value before the decrement.
func takeSaturating(addr *int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		if current <= 0 {
			return 0
		}
		if atomic.CompareAndSwapInt64(addr, current, current-1) {
			return current
		}
	}
}

// TxCounter counts transactions in bursts, restarting after a quiet period.
type TxCounter struct {
	idle time.Duration
	now  func() time.Time

	mu    sync.Mutex
	count int64
	last  time.Time
}

// NewTxCounter creates a counter that restarts after idle without records.
func NewTxCounter(idle time.Duration) *TxCounter {
	return &TxCounter{idle: idle, now: time.Now}
}

// Record counts one transaction and returns the running count.
func (c *TxCounter) Record() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.last.IsZero() && c.idle > 0 && now.Sub(c.last) > c.idle {
		c.count = 0
	}
	c.last = now
	c.count++
	return c.count
}

// Count returns the running count without recording.
func (c *TxCounter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
