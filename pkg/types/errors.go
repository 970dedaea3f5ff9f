package types

import (
	"fmt"
	"time"
)

// InvalidInputError reports a malformed or missing request parameter.
type InvalidInputError struct {
	Field string
	Msg   string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// InvalidSeedError reports a mnemonic that cannot produce a keypair.
type InvalidSeedError struct {
	Err error
}

func (e *InvalidSeedError) Error() string {
	return fmt.Sprintf("invalid seed: %v", e.Err)
}

func (e *InvalidSeedError) Unwrap() error { return e.Err }

// NotFoundError reports a query whose answer is empty.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found for %s", e.Kind, e.Key)
}

// ChainSubmissionError reports a transaction that ended in an error status or an unusable stream.
type ChainSubmissionError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *ChainSubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s (tx %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ChainSubmissionError) Unwrap() error { return e.Err }

// FinalityTimeoutError reports a transaction that did not finalize in time.
// It is a submission failure and matches *ChainSubmissionError through errors.As.
type FinalityTimeoutError struct {
	TxHash     string
	LastStatus string
	Waited     time.Duration
}

func (e *FinalityTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not finalized after %s (last status %s)", e.TxHash, e.Waited, e.LastStatus)
}

// As lets callers treat a timeout as a submission failure.
func (e *FinalityTimeoutError) As(target any) bool {
	t, ok := target.(**ChainSubmissionError)
	if !ok {
		return false
	}
	*t = &ChainSubmissionError{Op: "await finality", TxHash: e.TxHash, Err: fmt.Errorf("timed out after %s", e.Waited)}
	return true
}

// ChainQueryError reports a failed read-only ledger query.
type ChainQueryError struct {
	Method string
	Err    error
}

func (e *ChainQueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Method, e.Err)
}

func (e *ChainQueryError) Unwrap() error { return e.Err }

// InitializationError reports a startup dependency (ABI, contract, signer) that is unusable.
type InitializationError struct {
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed for %s: %v", e.Path, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
