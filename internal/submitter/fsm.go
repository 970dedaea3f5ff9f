package submitter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/pkg/types"
)

var errErrorStatus = errors.New("ledger reported error status")

type state int

const (
	statePending state = iota
	stateBroadcast
	stateInBlock
	stateFinalized
	stateFailed
)

func (s state) String() string {
	switch s {
	case statePending:
		return "Pending"
	case stateBroadcast:
		return "Broadcast"
	case stateInBlock:
		return "InBlock"
	case stateFinalized:
		return "Finalized"
	case stateFailed:
		return "Error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s state) terminal() bool {
	return s == stateFinalized || s == stateFailed
}

// tracker drives one submission through Pending -> Broadcast -> InBlock -> Finalized | Error.
// It resolves exactly once; updates after a terminal state are ignored.
type tracker struct {
	label  string
	state  state
	result *Result
	logger *slog.Logger
}

func newTracker(label string, result *Result, logger *slog.Logger) *tracker {
	return &tracker{label: label, result: result, logger: logger}
}

// apply consumes one update. It returns done once the submission is resolved,
// with a non-nil error if it resolved as a failure.
func (t *tracker) apply(u ledger.Update) (bool, error) {
	if t.state.terminal() {
		t.logger.Debug("update after resolution ignored",
			slog.String("call", t.label),
			slog.String("status", u.Status.String()),
		)
		return true, nil
	}

	switch u.Status {
	case ledger.StatusBroadcast:
		if t.state == statePending {
			t.state = stateBroadcast
		}
		return false, nil

	case ledger.StatusInBlock:
		t.state = stateInBlock
		t.result.InBlockHash = u.BlockHash
		t.result.BlockNumber = u.BlockNumber
		for _, ev := range u.Events {
			if ev.Is(ledger.SectionSystem, ledger.MethodExtrinsicFailed) && ev.Dispatch != nil {
				// Inclusion of a failed call is not a resolution; finality decides.
				t.logger.Warn("transaction failed in block",
					slog.String("call", t.label),
					slog.String("tx", t.result.TxHash.Hex()),
					slog.String("dispatchError", ev.Dispatch.Error()),
				)
			}
		}
		return false, nil

	case ledger.StatusFinalized:
		t.state = stateFinalized
		t.result.FinalizedHash = u.BlockHash
		if u.BlockNumber != 0 {
			t.result.BlockNumber = u.BlockNumber
		}
		t.result.Events = u.Events
		for _, ev := range u.Events {
			switch {
			case ev.Is(ledger.SectionSystem, ledger.MethodExtrinsicSuccess) && ev.Weight != nil:
				t.result.Success = true
				t.result.RefTime = ev.Weight.RefTime
				t.result.ProofSize = ev.Weight.ProofSize
			case ev.Is(ledger.SectionSystem, ledger.MethodExtrinsicFailed):
				t.result.DispatchError = ev.Dispatch
			}
		}
		if !t.result.Success && t.result.DispatchError == nil {
			t.result.DispatchError = &ledger.DispatchError{Module: ledger.SectionSystem, Name: "Unknown", Message: "no success event in finalized block"}
		}
		return true, nil

	case ledger.StatusError:
		t.state = stateFailed
		err := u.Err
		if err == nil {
			err = errErrorStatus
		}
		return true, &types.ChainSubmissionError{Op: t.label, TxHash: t.result.TxHash.Hex(), Err: err}

	default:
		t.logger.Warn("unknown status update ignored",
			slog.String("call", t.label),
			slog.String("status", u.Status.String()),
		)
		return false, nil
	}
}
