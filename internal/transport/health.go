package transport

import (
	"context"
	"errors"

	"github.com/gateway-fm/accessledger/internal/contract"
	"github.com/gateway-fm/accessledger/internal/ledger"
)

// LedgerHealth checks the ledger endpoint and the deployed contract.
type LedgerHealth struct {
	Ledger   ledger.Client
	Contract *contract.AccessControl
}

// CheckLedger verifies the ledger answers a chain id query.
func (h LedgerHealth) CheckLedger(ctx context.Context) error {
	_, err := h.Ledger.ChainID(ctx)
	return err
}

// CheckContract verifies the contract code is still present.
func (h LedgerHealth) CheckContract(ctx context.Context) error {
	ok, err := h.Contract.CheckDeployed(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no contract code at address")
	}
	return nil
}
