// Package coordinator allocates per-signer nonces and per-transaction tips.
package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reports the ledger's next usable index for an address.
type NonceSource interface {
	NextIndex(ctx context.Context, addr common.Address) (uint64, error)
}

// slot is the local nonce state of one signer.
type slot struct {
	mu   sync.Mutex
	next uint64
	// released holds rolled back nonces below next, ascending.
	released []uint64
}

// release returns value to the slot. Caller holds mu.
func (s *slot) release(value uint64) {
	if value >= s.next {
		return
	}
	i, found := slices.BinarySearch(s.released, value)
	if !found {
		s.released = slices.Insert(s.released, i, value)
	}
	// Shrink next while its predecessor is free.
	for len(s.released) > 0 && s.released[len(s.released)-1] == s.next-1 {
		s.released = s.released[:len(s.released)-1]
		s.next--
	}
}

// take hands out the lowest released nonce not yet used on the ledger, or next.
// Caller holds mu.
func (s *slot) take(chainNext uint64) uint64 {
	i, _ := slices.BinarySearch(s.released, chainNext)
	s.released = s.released[i:]
	if len(s.released) > 0 {
		value := s.released[0]
		s.released = s.released[1:]
		return value
	}
	value := s.next
	s.next++
	return value
}

// Nonces hands out nonces per signer.
// Allocation for one signer is serialized; different signers never wait on each other.
type Nonces struct {
	source NonceSource

	mu    sync.RWMutex
	slots map[common.Address]*slot
}

// NewNonces creates a nonce allocator backed by source.
func NewNonces(source NonceSource) *Nonces {
	return &Nonces{
		source: source,
		slots:  make(map[common.Address]*slot),
	}
}

func (n *Nonces) slotFor(addr common.Address) *slot {
	n.mu.RLock()
	s, ok := n.slots[addr]
	n.mu.RUnlock()
	if ok {
		return s
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok = n.slots[addr]; ok {
		return s
	}
	s = &slot{}
	n.slots[addr] = s
	return s
}

// Next resynchronizes addr with the ledger and reserves its next nonce.
// The returned Reservation MUST be either Committed or Rolled back.
//
// Example:
//
//	r, err := nonces.Next(ctx, addr)
//	if err != nil {
//	    return err
//	}
//	defer r.Rollback()
//	if err := broadcast(r.Value()); err != nil {
//	    return err
//	}
//	r.Commit()
func (n *Nonces) Next(ctx context.Context, addr common.Address) (*Reservation, error) {
	s := n.slotFor(addr)

	s.mu.Lock()
	defer s.mu.Unlock()

	chainNext, err := n.source.NextIndex(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch next index for %s: %w", addr.Hex(), err)
	}
	// Set-if-higher: never move backwards past nonces reserved but not yet visible.
	if chainNext > s.next {
		s.next = chainNext
	}

	return &Reservation{value: s.take(chainNext), slot: s}, nil
}

// Peek returns the next nonce the allocator would hand out for addr without contacting the ledger.
func (n *Nonces) Peek(addr common.Address) uint64 {
	s := n.slotFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Reservation is a reserved nonce that must be committed or rolled back.
type Reservation struct {
	value uint64
	slot  *slot
	done  atomic.Bool
}

// Value returns the nonce value.
func (r *Reservation) Value() uint64 {
	return r.value
}

// Commit marks the nonce as used.
// Safe to call multiple times.
func (r *Reservation) Commit() {
	r.done.Store(true)
}

// Rollback returns the nonce if it was not committed.
// A nonce rolled back behind outstanding reservations is handed out again
// by the next call to Next, so the sequence never keeps a gap.
// Safe to call multiple times. Typically called via defer.
func (r *Reservation) Rollback() {
	if r.done.Swap(true) {
		return
	}
	r.slot.mu.Lock()
	defer r.slot.mu.Unlock()
	r.slot.release(r.value)
}
