package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestTipsDecremental(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		calls int
		want  []uint64
	}{
		{"counts down", 3, 3, []uint64{3, 2, 1}},
		{"floors at zero", 2, 5, []uint64{2, 1, 0, 0, 0}},
		{"zero total", 0, 2, []uint64{0, 0}},
		{"negative total", -4, 1, []uint64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := NewTips(TipDecremental, tt.total)
			for k := range tt.calls {
				if got := tips.Next(); got != tt.want[k] {
					t.Errorf("Next() call %d = %d, want %d", k+1, got, tt.want[k])
				}
			}
			if tips.Remaining() < 0 {
				t.Errorf("Remaining() = %d, must never be negative", tips.Remaining())
			}
		})
	}
}

func TestTipsDecrementalFormula(t *testing.T) {
	const total = 100
	tips := NewTips(TipDecremental, total)
	for k := int64(1); k <= total+20; k++ {
		want := max(total-k+1, 0)
		if got := tips.Next(); got != uint64(want) {
			t.Fatalf("Next() call %d = %d, want %d", k, got, want)
		}
	}
}

func TestTipsDecrementalConcurrent(t *testing.T) {
	const total = 1000
	tips := NewTips(TipDecremental, total)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]int)
	)
	for range total + 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := tips.Next()
			mu.Lock()
			seen[v]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for v := uint64(1); v <= total; v++ {
		if seen[v] != 1 {
			t.Fatalf("tip %d handed out %d times, want exactly once", v, seen[v])
		}
	}
	if seen[0] != 200 {
		t.Errorf("tip 0 handed out %d times, want 200", seen[0])
	}
	if tips.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", tips.Remaining())
	}
}

func TestTipsRandomRange(t *testing.T) {
	const total = 5
	tips := NewTips(TipRandom, total)
	seen := make(map[uint64]bool)
	for range 2000 {
		v := tips.Next()
		if v < 1 || v > total {
			t.Fatalf("Next() = %d, want in [1, %d]", v, total)
		}
		seen[v] = true
	}
	if len(seen) != total {
		t.Errorf("saw %d distinct tips, want %d", len(seen), total)
	}
}

func TestTipPolicyString(t *testing.T) {
	if got := TipRandom.String(); got != "random" {
		t.Errorf("TipRandom.String() = %q, want random", got)
	}
	if got := TipDecremental.String(); got != "decremental" {
		t.Errorf("TipDecremental.String() = %q, want decremental", got)
	}
}

func TestTxCounterIdleReset(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTxCounter(5 * time.Second)
	c.now = func() time.Time { return now }

	if got := c.Record(); got != 1 {
		t.Errorf("Record() = %d, want 1", got)
	}
	now = now.Add(4 * time.Second)
	if got := c.Record(); got != 2 {
		t.Errorf("Record() within idle window = %d, want 2", got)
	}
	now = now.Add(6 * time.Second)
	if got := c.Record(); got != 1 {
		t.Errorf("Record() after idle window = %d, want 1", got)
	}
	if got := c.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestCoordinator(t *testing.T) {
	src := &fakeSource{next: map[common.Address]uint64{alice: 2}}
	c := New(Config{TipPolicy: TipDecremental, TotalTx: 10, CounterReset: time.Minute}, src)

	r, err := c.NextNonce(context.Background(), alice)
	if err != nil {
		t.Fatalf("NextNonce() error = %v", err)
	}
	if r.Value() != 2 {
		t.Errorf("NextNonce() = %d, want 2", r.Value())
	}
	if got := c.NextTip(); got != 10 {
		t.Errorf("NextTip() = %d, want 10", got)
	}
	if got := c.RecordTransaction(); got != 1 {
		t.Errorf("RecordTransaction() = %d, want 1", got)
	}
	if c.Tips().Policy() != TipDecremental {
		t.Errorf("Tips().Policy() = %v, want decremental", c.Tips().Policy())
	}
}
