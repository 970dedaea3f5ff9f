// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/accessledger/internal/ledger"
)

// ErrRevert marks a contract execution failure returned by a Contract.
var ErrRevert = errors.New("execution reverted")

// RevertError carries the revert reason of a simulated contract call.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string { return "execution reverted: " + e.Reason }

func (e *RevertError) Unwrap() error { return ErrRevert }

// Contract simulates a deployed contract.
type Contract interface {
	// Call answers a read-only call.
	Call(from common.Address, data []byte) ([]byte, error)
	// Execute applies a transaction and returns the logs it emitted.
	Execute(from common.Address, data []byte, value *big.Int) ([]ledger.Event, error)
}

// Script overrides the status stream produced for a transaction.
type Script func(tx *types.Transaction, from common.Address) ([]ledger.Update, error)

// Fake is a scripted in-memory ledger.
// By default every transaction streams Broadcast, InBlock and Finalized.
type Fake struct {
	mu sync.Mutex

	chainID   *big.Int
	baseFee   *big.Int
	gasPrice  *big.Int
	nonces    map[common.Address]uint64
	contracts map[common.Address]Contract
	submitted []*types.Transaction
	blocks    uint64

	// Script, if set, replaces the default stream.
	Script Script
	// SubmitErr, if set, rejects every broadcast.
	SubmitErr error
	// NonceErr, if set, fails NextIndex.
	NonceErr error
	// StreamDelay is inserted before each update after Broadcast.
	StreamDelay time.Duration
}

// New creates a fake ledger for chain id 31337.
func New() *Fake {
	return &Fake{
		chainID:   big.NewInt(31337),
		baseFee:   big.NewInt(1_000_000_000),
		gasPrice:  big.NewInt(2_000_000_000),
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]Contract),
	}
}

// Deploy registers c at addr.
func (f *Fake) Deploy(addr common.Address, c Contract) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[addr] = c
}

// SetNonce sets the next index reported for addr.
func (f *Fake) SetNonce(addr common.Address, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[addr] = n
}

// Submitted returns every broadcast transaction in order.
func (f *Fake) Submitted() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.submitted...)
}

// ChainID implements ledger.Client.
func (f *Fake) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

// NextIndex implements ledger.Client.
func (f *Fake) NextIndex(_ context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NonceErr != nil {
		return 0, f.NonceErr
	}
	return f.nonces[addr], nil
}

// BaseFee implements ledger.Client.
func (f *Fake) BaseFee(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.baseFee), nil
}

// GasPrice implements ledger.Client.
func (f *Fake) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

// Code implements ledger.Client.
func (f *Fake) Code(_ context.Context, addr common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contracts[addr]; ok {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

// Call implements ledger.Client.
func (f *Fake) Call(_ context.Context, from, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	c, ok := f.contracts[to]
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return c.Call(from, data)
}

// SubmitAndWatch implements ledger.Client.
func (f *Fake) SubmitAndWatch(ctx context.Context, tx *types.Transaction) (<-chan ledger.Update, error) {
	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}

	f.mu.Lock()
	if f.SubmitErr != nil {
		f.mu.Unlock()
		return nil, f.SubmitErr
	}
	for _, prev := range f.submitted {
		if prev.Nonce() == tx.Nonce() && senderOf(f.chainID, prev) == from {
			f.mu.Unlock()
			return nil, fmt.Errorf("nonce too low for %s: %d already used", from.Hex(), tx.Nonce())
		}
	}
	// Gaps are accepted and queued like a mempool does.
	f.nonces[from] = max(f.nonces[from], tx.Nonce()+1)
	f.submitted = append(f.submitted, tx)
	f.blocks++
	block := f.blocks
	script := f.Script
	delay := f.StreamDelay
	f.mu.Unlock()

	var updates []ledger.Update
	if script != nil {
		updates, err = script(tx, from)
		if err != nil {
			return nil, err
		}
	} else {
		updates = f.defaultUpdates(tx, from, block)
	}

	ch := make(chan ledger.Update, 1)
	go func() {
		defer close(ch)
		for i, u := range updates {
			if u.TxHash == (common.Hash{}) {
				u.TxHash = tx.Hash()
			}
			if i > 0 && delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *Fake) defaultUpdates(tx *types.Transaction, from common.Address, block uint64) []ledger.Update {
	var events []ledger.Event
	var execErr error

	if tx.To() != nil {
		f.mu.Lock()
		c, ok := f.contracts[*tx.To()]
		f.mu.Unlock()
		if ok {
			events, execErr = c.Execute(from, tx.Data(), tx.Value())
		}
	}

	size := tx.Size()
	if execErr != nil {
		reason := execErr.Error()
		var rev *RevertError
		if errors.As(execErr, &rev) {
			reason = rev.Reason
		}
		events = append(events, ledger.Event{
			Section:  ledger.SectionSystem,
			Method:   ledger.MethodExtrinsicFailed,
			Dispatch: &ledger.DispatchError{Module: ledger.SectionContracts, Name: "ContractReverted", Message: reason},
		})
	} else {
		events = append(events, SuccessEvent(IntrinsicGas(tx.Data()), size))
	}

	blockHash := common.BigToHash(new(big.Int).SetUint64(block))
	return []ledger.Update{
		{Status: ledger.StatusBroadcast},
		{Status: ledger.StatusInBlock, BlockHash: blockHash, BlockNumber: block, Events: events},
		{Status: ledger.StatusFinalized, BlockHash: blockHash, BlockNumber: block, Events: events},
	}
}

func senderOf(chainID *big.Int, tx *types.Transaction) common.Address {
	from, _ := types.Sender(types.LatestSignerForChainID(chainID), tx)
	return from
}

// SuccessEvent builds the ExtrinsicSuccess event carrying weight {refTime, proofSize}.
func SuccessEvent(refTime, proofSize uint64) ledger.Event {
	return ledger.Event{
		Section: ledger.SectionSystem,
		Method:  ledger.MethodExtrinsicSuccess,
		Weight:  &ledger.Weight{RefTime: refTime, ProofSize: proofSize},
	}
}

// IntrinsicGas approximates the gas of a call carrying data.
func IntrinsicGas(data []byte) uint64 {
	gas := uint64(21000)
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}
