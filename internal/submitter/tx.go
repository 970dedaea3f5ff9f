package submitter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call is an unsigned call descriptor.
type Call struct {
	// Label names the call in logs, metrics and errors (e.g. "addUser").
	Label    string
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// newTx creates either a DynamicFeeTx or LegacyTx depending on useLegacy.
// For legacy transactions, gasFeeCap is used as the gas price.
func newTx(chainID *big.Int, nonce uint64, call Call, gasLimit uint64, gasTipCap, gasFeeCap *big.Int, useLegacy bool) *types.Transaction {
	to := call.To
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	if useLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasFeeCap,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     call.Data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})
}

// fees returns the tip cap and fee cap for a tip expressed in tip units.
// Dynamic fee: feeCap = 2*baseFee + tipCap. Legacy: price = gasPrice + tipCap.
func (s *Submitter) fees(ctx context.Context, tip uint64) (tipCap, feeCap *big.Int, err error) {
	tipCap = new(big.Int).Mul(new(big.Int).SetUint64(tip), s.tipUnit)

	if s.useLegacy {
		price, err := s.ledger.GasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("get gas price: %w", err)
		}
		return tipCap, new(big.Int).Add(price, tipCap), nil
	}

	baseFee, err := s.ledger.BaseFee(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get base fee: %w", err)
	}
	feeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return tipCap, feeCap, nil
}
