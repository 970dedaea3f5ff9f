// Package ledger defines the ledger client the facade talks to and its EVM binding.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Status is a transaction lifecycle stage reported by the status stream.
type Status int

const (
	StatusBroadcast Status = iota + 1
	StatusInBlock
	StatusFinalized
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusBroadcast:
		return "Broadcast"
	case StatusInBlock:
		return "InBlock"
	case StatusFinalized:
		return "Finalized"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further updates follow s.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusError
}

// Event sections and methods emitted for included transactions.
const (
	SectionSystem    = "system"
	SectionContracts = "contracts"

	MethodExtrinsicSuccess = "ExtrinsicSuccess"
	MethodExtrinsicFailed  = "ExtrinsicFailed"
	MethodContractEmitted  = "ContractEmitted"
)

// Weight is the resource consumption of an included transaction.
type Weight struct {
	RefTime   uint64
	ProofSize uint64
}

// DispatchError describes why an included transaction failed.
type DispatchError struct {
	Module  string
	Name    string
	Message string
}

func (e *DispatchError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s.%s", e.Module, e.Name)
	}
	return fmt.Sprintf("%s.%s: %s", e.Module, e.Name, e.Message)
}

// Event is a ledger event attached to a transaction's inclusion.
type Event struct {
	Section string
	Method  string

	// Weight is set on ExtrinsicSuccess.
	Weight *Weight
	// Dispatch is set on ExtrinsicFailed.
	Dispatch *DispatchError

	// Contract log payload, set on ContractEmitted.
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Is reports whether the event matches section and method.
func (e Event) Is(section, method string) bool {
	return e.Section == section && e.Method == method
}

// Update is one status notification for a submitted transaction.
type Update struct {
	Status      Status
	TxHash      common.Hash
	BlockHash   common.Hash
	BlockNumber uint64
	Events      []Event
	// Err is set on StatusError.
	Err error
}

// Client is the ledger surface used by the coordinator, submitter and contract client.
type Client interface {
	// ChainID returns the chain id transactions must be signed for.
	ChainID(ctx context.Context) (*big.Int, error)

	// NextIndex returns the next nonce the ledger will accept from addr, including pending transactions.
	NextIndex(ctx context.Context, addr common.Address) (uint64, error)

	// BaseFee returns the latest base fee per gas.
	BaseFee(ctx context.Context) (*big.Int, error)

	// GasPrice returns the node's suggested legacy gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// SubmitAndWatch broadcasts tx and streams its status until a terminal update or ctx ends.
	// The channel is closed after the terminal update. A broadcast rejection is returned directly.
	SubmitAndWatch(ctx context.Context, tx *types.Transaction) (<-chan Update, error)

	// Call executes a read-only contract call against the latest state.
	Call(ctx context.Context, from, to common.Address, data []byte) ([]byte, error)

	// Code returns the deployed bytecode at addr.
	Code(ctx context.Context, addr common.Address) ([]byte, error)
}
