// Package submitter signs calls, broadcasts them and follows them to finality.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/accessledger/internal/account"
	"github.com/gateway-fm/accessledger/internal/coordinator"
	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Default settings.
const (
	DefaultGasLimit        = 500000
	DefaultFinalityTimeout = 2 * time.Minute
)

// DefaultTipUnit is the wei value of one tip unit (1 gwei).
var DefaultTipUnit = big.NewInt(1_000_000_000)

// Submission outcomes reported to the Recorder.
const (
	OutcomeSuccess    = "success"
	OutcomeDispatch   = "dispatch_error"
	OutcomeRejected   = "rejected"
	OutcomeStreamErr  = "stream_error"
	OutcomeTimeout    = "timeout"
	OutcomeCancelled  = "cancelled"
	OutcomeStreamDied = "stream_closed"
)

// Recorder receives submission metrics.
type Recorder interface {
	RecordSubmission(label, outcome string, elapsed time.Duration)
	RecordStage(label, stage string, sinceBroadcast time.Duration)
	RecordTip(tip uint64)
}

// Result is the outcome of a finalized submission.
type Result struct {
	TxHash        common.Hash
	InBlockHash   common.Hash
	FinalizedHash common.Hash
	BlockNumber   uint64
	RefTime       uint64
	ProofSize     uint64
	Tip           uint64
	Nonce         uint64
	Success       bool
	DispatchError *ledger.DispatchError
	Events        []ledger.Event
}

// Config configures a Submitter.
type Config struct {
	Ledger      ledger.Client
	Coordinator *coordinator.Coordinator
	// ChainID is queried from the ledger when nil.
	ChainID         *big.Int
	TipUnit         *big.Int
	UseLegacy       bool
	DefaultGasLimit uint64
	// FinalityTimeout bounds the wait after broadcast. Zero disables it.
	FinalityTimeout time.Duration
	Recorder        Recorder
	Logger          *slog.Logger
}

// Submitter submits calls and waits for finality.
type Submitter struct {
	ledger          ledger.Client
	coord           *coordinator.Coordinator
	chainID         *big.Int
	tipUnit         *big.Int
	useLegacy       bool
	gasLimit        uint64
	finalityTimeout time.Duration
	recorder        Recorder
	logger          *slog.Logger
}

// New creates a submitter.
func New(ctx context.Context, cfg Config) (*Submitter, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("submitter: ledger is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("submitter: coordinator is required")
	}

	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		id, err := cfg.Ledger.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		chainID = id
	}

	tipUnit := cfg.TipUnit
	if tipUnit == nil {
		tipUnit = DefaultTipUnit
	}
	gasLimit := cfg.DefaultGasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Submitter{
		ledger:          cfg.Ledger,
		coord:           cfg.Coordinator,
		chainID:         chainID,
		tipUnit:         tipUnit,
		useLegacy:       cfg.UseLegacy,
		gasLimit:        gasLimit,
		finalityTimeout: cfg.FinalityTimeout,
		recorder:        cfg.Recorder,
		logger:          logger,
	}, nil
}

// ChainID returns the chain id transactions are signed for.
func (s *Submitter) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Submit draws the signer's next nonce and the next tip, then submits call.
func (s *Submitter) Submit(ctx context.Context, call Call, signer *account.Account) (*Result, error) {
	nonce, err := s.coord.NextNonce(ctx, signer.Address)
	if err != nil {
		return nil, &types.ChainSubmissionError{Op: call.Label, Err: err}
	}
	defer nonce.Rollback()

	tip := s.coord.NextTip()
	res, broadcast, err := s.submit(ctx, call, signer, nonce.Value(), tip)
	if broadcast {
		nonce.Commit()
	}
	return res, err
}

// SubmitWithParams submits call with an explicit nonce and tip.
func (s *Submitter) SubmitWithParams(ctx context.Context, call Call, signer *account.Account, nonce, tip uint64) (*Result, error) {
	res, _, err := s.submit(ctx, call, signer, nonce, tip)
	return res, err
}

// submit reports whether the transaction reached the ledger, so the caller knows if its nonce was consumed.
func (s *Submitter) submit(ctx context.Context, call Call, signer *account.Account, nonce, tip uint64) (*Result, bool, error) {
	start := time.Now()
	label := call.Label
	if label == "" {
		label = "call"
	}

	tipCap, feeCap, err := s.fees(ctx, tip)
	if err != nil {
		s.record(label, OutcomeRejected, start)
		return nil, false, &types.ChainSubmissionError{Op: label, Err: err}
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit = s.gasLimit
	}

	tx, err := signer.Sign(newTx(s.chainID, nonce, call, gasLimit, tipCap, feeCap, s.useLegacy), s.chainID)
	if err != nil {
		s.record(label, OutcomeRejected, start)
		return nil, false, &types.ChainSubmissionError{Op: label, Err: fmt.Errorf("sign: %w", err)}
	}

	if s.recorder != nil {
		s.recorder.RecordTip(tip)
	}
	if observe := tipObserverFrom(ctx); observe != nil {
		observe(tip)
	}

	result := &Result{TxHash: tx.Hash(), Tip: tip, Nonce: nonce}
	logger := s.logger.With(
		slog.String("call", label),
		slog.String("tx", tx.Hash().Hex()),
		slog.String("from", signer.Address.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("tip", tip),
	)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := s.ledger.SubmitAndWatch(watchCtx, tx)
	if err != nil {
		s.record(label, OutcomeRejected, start)
		logger.Warn("broadcast rejected", slog.String("error", err.Error()))
		return nil, false, &types.ChainSubmissionError{Op: label, TxHash: tx.Hash().Hex(), Err: err}
	}
	logger.Debug("transaction submitted")

	broadcastAt := time.Now()
	var timeout <-chan time.Time
	if s.finalityTimeout > 0 {
		timer := time.NewTimer(s.finalityTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	tr := newTracker(label, result, logger)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					s.record(label, OutcomeCancelled, start)
					return nil, true, &types.ChainSubmissionError{Op: label, TxHash: tx.Hash().Hex(), Err: ctx.Err()}
				}
				s.record(label, OutcomeStreamDied, start)
				return nil, true, &types.ChainSubmissionError{
					Op:     label,
					TxHash: tx.Hash().Hex(),
					Err:    fmt.Errorf("status stream closed in state %s", tr.state),
				}
			}

			done, err := tr.apply(u)
			if s.recorder != nil {
				s.recorder.RecordStage(label, u.Status.String(), time.Since(broadcastAt))
			}
			if !done {
				continue
			}
			if err != nil {
				s.record(label, OutcomeStreamErr, start)
				logger.Warn("transaction failed", slog.String("error", err.Error()))
				return nil, true, err
			}

			outcome := OutcomeSuccess
			if !result.Success {
				outcome = OutcomeDispatch
			}
			s.record(label, outcome, start)
			logger.Info("transaction finalized",
				slog.String("blockHash", result.FinalizedHash.Hex()),
				slog.Uint64("refTime", result.RefTime),
				slog.Uint64("proofSize", result.ProofSize),
				slog.Bool("success", result.Success),
				slog.Duration("elapsed", time.Since(start)),
			)
			return result, true, nil

		case <-timeout:
			s.record(label, OutcomeTimeout, start)
			logger.Warn("finality timeout", slog.String("lastStatus", tr.state.String()))
			return nil, true, &types.FinalityTimeoutError{
				TxHash:     tx.Hash().Hex(),
				LastStatus: tr.state.String(),
				Waited:     s.finalityTimeout,
			}

		case <-ctx.Done():
			s.record(label, OutcomeCancelled, start)
			return nil, true, &types.ChainSubmissionError{Op: label, TxHash: tx.Hash().Hex(), Err: ctx.Err()}
		}
	}
}

type tipObserverKey struct{}

// WithTipObserver returns a context whose submissions report their tip to fn once signed,
// including submissions that later fail.
func WithTipObserver(ctx context.Context, fn func(tip uint64)) context.Context {
	return context.WithValue(ctx, tipObserverKey{}, fn)
}

func tipObserverFrom(ctx context.Context) func(uint64) {
	fn, _ := ctx.Value(tipObserverKey{}).(func(uint64))
	return fn
}

func (s *Submitter) record(label, outcome string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordSubmission(label, outcome, time.Since(start))
	}
}
