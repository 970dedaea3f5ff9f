package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/accessledger/internal/rpc"
)

// Finality tags understood by EVMConfig.FinalityTag.
const (
	TagFinalized = "finalized"
	TagSafe      = "safe"
	TagLatest    = "latest"
)

// EVMConfig configures the EVM ledger adapter.
type EVMConfig struct {
	RPC rpc.Client
	// Heads, when set, drives status checks on every new block.
	Heads *HeadWatcher
	// PollInterval paces status checks when no head arrives.
	PollInterval time.Duration
	// FinalityTag is the block tag a transaction must be covered by to count as final.
	// With TagLatest, or when the node rejects the tag, Confirmations blocks on top of latest are required.
	FinalityTag   string
	Confirmations uint64
	// MaxWatchErrors consecutive RPC failures end a status stream with StatusError.
	MaxWatchErrors int
	Logger         *slog.Logger
}

// DefaultEVMConfig returns defaults for client.
func DefaultEVMConfig(client rpc.Client) EVMConfig {
	return EVMConfig{
		RPC:            client,
		PollInterval:   time.Second,
		FinalityTag:    TagFinalized,
		MaxWatchErrors: 5,
	}
}

// EVM implements Client on top of an Ethereum JSON-RPC node.
type EVM struct {
	rpc            rpc.Client
	heads          *HeadWatcher
	poll           time.Duration
	tag            string
	confirmations  uint64
	maxWatchErrors int
	logger         *slog.Logger

	tagUnsupported atomic.Bool

	chainMu sync.Mutex
	chainID *big.Int
}

// NewEVM creates the adapter.
func NewEVM(cfg EVMConfig) *EVM {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	tag := cfg.FinalityTag
	if tag == "" {
		tag = TagFinalized
	}
	maxErrors := cfg.MaxWatchErrors
	if maxErrors <= 0 {
		maxErrors = 5
	}
	return &EVM{
		rpc:            cfg.RPC,
		heads:          cfg.Heads,
		poll:           poll,
		tag:            tag,
		confirmations:  cfg.Confirmations,
		maxWatchErrors: maxErrors,
		logger:         logger,
	}
}

// ChainID returns the node's chain id, cached after the first successful call.
func (e *EVM) ChainID(ctx context.Context) (*big.Int, error) {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	if e.chainID != nil {
		return new(big.Int).Set(e.chainID), nil
	}
	id, err := e.rpc.GetChainID(ctx)
	if err != nil {
		return nil, err
	}
	e.chainID = id
	return new(big.Int).Set(id), nil
}

// NextIndex returns the pending nonce of addr.
func (e *EVM) NextIndex(ctx context.Context, addr common.Address) (uint64, error) {
	return e.rpc.GetNonce(ctx, addr.Hex())
}

// BaseFee returns the latest block's base fee.
func (e *EVM) BaseFee(ctx context.Context) (*big.Int, error) {
	fee, err := e.rpc.GetBaseFee(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(fee), nil
}

// GasPrice returns the node's gas price.
func (e *EVM) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := e.rpc.GetGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(price), nil
}

// Call runs a read-only call at the latest block.
func (e *EVM) Call(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	msg := rpc.CallMsg{
		To:   to.Hex(),
		Data: hexutil.Encode(data),
	}
	if from != (common.Address{}) {
		msg.From = from.Hex()
	}
	return e.rpc.EthCall(ctx, msg, TagLatest)
}

// Code returns the bytecode deployed at addr.
func (e *EVM) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := e.rpc.GetCode(ctx, addr.Hex())
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("decode code: %w", err)
	}
	return b, nil
}

// SubmitAndWatch broadcasts tx and returns its status stream.
func (e *EVM) SubmitAndWatch(ctx context.Context, tx *types.Transaction) (<-chan Update, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	if _, err := e.rpc.SendRawTransaction(ctx, raw); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	ch := make(chan Update, 4)
	ch <- Update{Status: StatusBroadcast, TxHash: tx.Hash()}
	go e.watch(ctx, tx, uint64(len(raw)), ch)
	return ch, nil
}

// watch follows tx from broadcast to finality.
func (e *EVM) watch(ctx context.Context, tx *types.Transaction, size uint64, ch chan<- Update) {
	defer close(ch)

	var heads <-chan Head
	if e.heads != nil {
		h, unsubscribe := e.heads.Subscribe()
		defer unsubscribe()
		heads = h
	}
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	w := &txWatch{evm: e, tx: tx, size: size, out: ch}
	for {
		if w.step(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-heads:
		case <-ticker.C:
		}
	}
}

// txWatch holds the per-transaction watch state.
type txWatch struct {
	evm      *EVM
	tx       *types.Transaction
	size     uint64
	out      chan<- Update
	included *rpc.TransactionReceipt
	events   []Event
	failures int
}

func (w *txWatch) send(ctx context.Context, u Update) bool {
	select {
	case w.out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail counts a transient RPC failure and reports whether the stream must end.
func (w *txWatch) fail(ctx context.Context, op string, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	w.failures++
	w.evm.logger.Debug("status check failed",
		slog.String("tx", w.tx.Hash().Hex()),
		slog.String("op", op),
		slog.Int("failures", w.failures),
		slog.String("error", err.Error()),
	)
	if w.failures < w.evm.maxWatchErrors {
		return false
	}
	w.send(ctx, Update{
		Status: StatusError,
		TxHash: w.tx.Hash(),
		Err:    fmt.Errorf("%s: %w", op, err),
	})
	return true
}

// step performs one status check and reports whether the stream is finished.
func (w *txWatch) step(ctx context.Context) bool {
	hash := w.tx.Hash()
	e := w.evm

	if w.included == nil {
		r, err := e.rpc.GetTransactionReceipt(ctx, hash.Hex())
		if err != nil {
			return w.fail(ctx, "get receipt", err)
		}
		w.failures = 0
		if r == nil {
			return false
		}
		w.include(ctx, r)
		if !w.send(ctx, w.update(StatusInBlock)) {
			return true
		}
	}

	final, err := e.finalizedNumber(ctx)
	if err != nil {
		return w.fail(ctx, "get finalized block", err)
	}
	if final < w.included.BlockNumber {
		w.failures = 0
		return false
	}

	// Confirm the inclusion survived until finality.
	r, err := e.rpc.GetTransactionReceipt(ctx, hash.Hex())
	if err != nil {
		return w.fail(ctx, "recheck receipt", err)
	}
	w.failures = 0
	if r == nil {
		e.logger.Warn("transaction dropped from chain after inclusion",
			slog.String("tx", hash.Hex()),
			slog.String("block", w.included.BlockHash),
		)
		w.included = nil
		w.events = nil
		w.reinject(ctx)
		return false
	}
	if r.BlockHash != w.included.BlockHash {
		w.include(ctx, r)
		if !w.send(ctx, w.update(StatusInBlock)) {
			return true
		}
		if final < r.BlockNumber {
			return false
		}
	}

	w.send(ctx, w.update(StatusFinalized))
	return true
}

// reinject rebroadcasts a reorged transaction the node no longer knows about.
func (w *txWatch) reinject(ctx context.Context) {
	hash := w.tx.Hash().Hex()
	known, err := w.evm.rpc.GetTransactionByHash(ctx, hash)
	if err != nil || known != nil {
		return
	}
	raw, err := w.tx.MarshalBinary()
	if err != nil {
		return
	}
	if _, err := w.evm.rpc.SendRawTransaction(ctx, raw); err != nil {
		w.evm.logger.Warn("rebroadcast after reorg failed",
			slog.String("tx", hash),
			slog.String("error", err.Error()),
		)
		return
	}
	w.evm.logger.Info("rebroadcast transaction after reorg", slog.String("tx", hash))
}

func (w *txWatch) include(ctx context.Context, r *rpc.TransactionReceipt) {
	w.included = r
	w.failures = 0
	w.events = w.evm.eventsFor(ctx, w.tx, r, w.size)
	w.evm.logEvents(w.tx.Hash(), r, w.events)
}

func (w *txWatch) update(status Status) Update {
	return Update{
		Status:      status,
		TxHash:      w.tx.Hash(),
		BlockHash:   common.HexToHash(w.included.BlockHash),
		BlockNumber: w.included.BlockNumber,
		Events:      w.events,
	}
}

// finalizedNumber returns the highest block number considered final.
func (e *EVM) finalizedNumber(ctx context.Context) (uint64, error) {
	if e.tag != TagLatest && !e.tagUnsupported.Load() {
		header, err := e.rpc.GetHeader(ctx, e.tag)
		if err == nil && header != nil {
			return header.Number, nil
		}
		var rpcErr *rpc.RPCError
		if err != nil && !errors.As(err, &rpcErr) {
			return 0, err
		}
		e.tagUnsupported.Store(true)
		e.logger.Warn("node does not serve finality tag, using confirmation depth",
			slog.String("tag", e.tag),
			slog.Uint64("confirmations", e.confirmations),
		)
	}

	latest, err := e.rpc.GetBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if latest < e.confirmations {
		return 0, nil
	}
	return latest - e.confirmations, nil
}

// eventsFor maps a receipt onto ledger events.
func (e *EVM) eventsFor(ctx context.Context, tx *types.Transaction, r *rpc.TransactionReceipt, size uint64) []Event {
	events := make([]Event, 0, len(r.Logs)+1)
	for _, l := range r.Logs {
		ev := Event{
			Section: SectionContracts,
			Method:  MethodContractEmitted,
			Address: common.HexToAddress(l.Address),
		}
		for _, topic := range l.Topics {
			ev.Topics = append(ev.Topics, common.HexToHash(topic))
		}
		if data, err := hexutil.Decode(l.Data); err == nil {
			ev.Data = data
		}
		events = append(events, ev)
	}

	if r.Status == types.ReceiptStatusSuccessful {
		events = append(events, Event{
			Section: SectionSystem,
			Method:  MethodExtrinsicSuccess,
			Weight:  &Weight{RefTime: r.GasUsed, ProofSize: size},
		})
		return events
	}

	return append(events, Event{
		Section:  SectionSystem,
		Method:   MethodExtrinsicFailed,
		Dispatch: e.decodeDispatch(ctx, tx, r.BlockNumber),
	})
}

// decodeDispatch replays a failed transaction as a call to recover its revert reason.
func (e *EVM) decodeDispatch(ctx context.Context, tx *types.Transaction, blockNumber uint64) *DispatchError {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return &DispatchError{Module: SectionSystem, Name: "Other", Message: err.Error()}
	}

	msg := rpc.CallMsg{
		From:  from.Hex(),
		Gas:   hexutil.EncodeUint64(tx.Gas()),
		Value: hexutil.EncodeBig(tx.Value()),
		Data:  hexutil.Encode(tx.Data()),
	}
	if tx.To() != nil {
		msg.To = tx.To().Hex()
	}
	block := TagLatest
	if blockNumber > 0 {
		block = hexutil.EncodeUint64(blockNumber - 1)
	}

	_, err = e.rpc.EthCall(ctx, msg, block)
	if err == nil {
		return &DispatchError{Module: SectionContracts, Name: "ContractTrapped", Message: "reverted on chain but replay succeeded"}
	}

	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) {
		return &DispatchError{Module: SectionSystem, Name: "Other", Message: err.Error()}
	}
	data, ok := rpcErr.RevertData()
	if !ok {
		return &DispatchError{Module: SectionContracts, Name: "ContractReverted", Message: rpcErr.Message}
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return &DispatchError{Module: SectionContracts, Name: "ContractReverted", Message: hexutil.Encode(data)}
	}
	return &DispatchError{Module: SectionContracts, Name: "ContractReverted", Message: reason}
}

func (e *EVM) logEvents(hash common.Hash, r *rpc.TransactionReceipt, events []Event) {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Section+"."+ev.Method)
	}
	e.logger.Info("transaction included",
		slog.String("tx", hash.Hex()),
		slog.Uint64("block", r.BlockNumber),
		slog.String("blockHash", r.BlockHash),
		slog.String("events", strings.Join(names, ",")),
	)
	for _, ev := range events {
		if ev.Dispatch != nil {
			e.logger.Warn("dispatch error",
				slog.String("tx", hash.Hex()),
				slog.String("error", ev.Dispatch.Error()),
			)
		}
	}
}
