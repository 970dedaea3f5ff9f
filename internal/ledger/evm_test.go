package ledger

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"github.com/gateway-fm/accessledger/internal/account"
	"github.com/gateway-fm/accessledger/internal/rpc"
)

// fakeNode is a minimal JSON-RPC node whose answers tests can change between polls.
type fakeNode struct {
	t  *testing.T
	mu sync.Mutex
	// handlers return a raw JSON result, or a raw JSON error object when errObj is non-empty.
	handlers map[string]func(params []json.RawMessage) (result string, errObj string)
	calls    map[string]int
}

func newFakeNode(t *testing.T) *fakeNode {
	return &fakeNode{
		t:        t,
		handlers: make(map[string]func([]json.RawMessage) (string, string)),
		calls:    make(map[string]int),
	}
}

func (n *fakeNode) on(method string, h func(params []json.RawMessage) (string, string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		n.t.Errorf("bad rpc body: %v", err)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	h, ok := n.handlers[req.Method]
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
		return
	}
	result, errObj := h(req.Params)
	if errObj != "" {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":`+errObj+`}`)
		return
	}
	_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+result+`}`)
}

func newTestEVM(t *testing.T, node *fakeNode, mutate func(*EVMConfig)) *EVM {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	rc := rpc.DefaultClientConfig(srv.URL)
	rc.MaxRetries = 0
	cfg := DefaultEVMConfig(rpc.NewHTTPClient(rc))
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MaxWatchErrors = 3
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEVM(cfg)
}

func signedTx(t *testing.T, data []byte) *types.Transaction {
	t.Helper()
	chainID := big.NewInt(31337)
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
		Gas:       500000,
		To:        &to,
		Data:      data,
	})
	signed, err := account.DevAccount().Sign(tx, chainID)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return signed
}

func receiptJSON(tx *types.Transaction, status string, block uint64, blockHash string) string {
	return `{"transactionHash":"` + tx.Hash().Hex() + `","blockHash":"` + blockHash +
		`","status":"` + status + `","gasUsed":"0xc350","blockNumber":"` + hexutil.EncodeUint64(block) +
		`","logs":[{"address":"0x5fbdb2315678afecb367f032d93f642f64180aa3","topics":["0x01"],"data":"0x"}]}`
}

func collect(t *testing.T, ch <-chan Update) []Update {
	t.Helper()
	var out []Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatalf("stream did not close, got %d updates", len(out))
		}
	}
}

func TestSubmitAndWatchFinalizes(t *testing.T) {
	node := newFakeNode(t)
	tx := signedTx(t, []byte{0x01, 0x02})

	var mu sync.Mutex
	receiptPolls := 0
	finalized := uint64(0)

	node.on("eth_sendRawTransaction", func([]json.RawMessage) (string, string) {
		return `"` + tx.Hash().Hex() + `"`, ""
	})
	node.on("eth_getTransactionReceipt", func([]json.RawMessage) (string, string) {
		mu.Lock()
		defer mu.Unlock()
		receiptPolls++
		if receiptPolls < 2 {
			return "null", ""
		}
		return receiptJSON(tx, "0x1", 7, "0x00000000000000000000000000000000000000000000000000000000000000b7"), ""
	})
	node.on("eth_getBlockByNumber", func(params []json.RawMessage) (string, string) {
		mu.Lock()
		defer mu.Unlock()
		// Finality catches up after a few checks.
		finalized++
		return `{"number":"` + hexutil.EncodeUint64(finalized+4) + `","hash":"0x01","transactions":[]}`, ""
	})

	evm := newTestEVM(t, node, nil)
	ch, err := evm.SubmitAndWatch(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitAndWatch() error = %v", err)
	}
	updates := collect(t, ch)

	if len(updates) != 3 {
		t.Fatalf("got %d updates (%v), want Broadcast, InBlock, Finalized", len(updates), updates)
	}
	wantStatus := []Status{StatusBroadcast, StatusInBlock, StatusFinalized}
	for i, u := range updates {
		if u.Status != wantStatus[i] {
			t.Errorf("updates[%d].Status = %v, want %v", i, u.Status, wantStatus[i])
		}
		if u.TxHash != tx.Hash() {
			t.Errorf("updates[%d].TxHash = %s, want %s", i, u.TxHash.Hex(), tx.Hash().Hex())
		}
	}

	final := updates[2]
	if final.BlockNumber != 7 {
		t.Errorf("BlockNumber = %d, want 7", final.BlockNumber)
	}
	var success *Event
	for i := range final.Events {
		if final.Events[i].Is(SectionSystem, MethodExtrinsicSuccess) {
			success = &final.Events[i]
		}
	}
	if success == nil {
		t.Fatalf("Finalized events %v lack ExtrinsicSuccess", final.Events)
	}
	if success.Weight.RefTime != 50000 {
		t.Errorf("RefTime = %d, want 50000", success.Weight.RefTime)
	}
	if success.Weight.ProofSize != tx.Size() {
		t.Errorf("ProofSize = %d, want %d", success.Weight.ProofSize, tx.Size())
	}
	if !final.Events[0].Is(SectionContracts, MethodContractEmitted) {
		t.Errorf("Events[0] = %s.%s, want contracts.ContractEmitted", final.Events[0].Section, final.Events[0].Method)
	}
}

func TestSubmitAndWatchDecodesRevert(t *testing.T) {
	node := newFakeNode(t)
	tx := signedTx(t, []byte{0xaa})

	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack("Nombre no valido")
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	revert := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)

	node.on("eth_sendRawTransaction", func([]json.RawMessage) (string, string) {
		return `"` + tx.Hash().Hex() + `"`, ""
	})
	node.on("eth_getTransactionReceipt", func([]json.RawMessage) (string, string) {
		return receiptJSON(tx, "0x0", 3, "0x00000000000000000000000000000000000000000000000000000000000000c3"), ""
	})
	node.on("eth_getBlockByNumber", func([]json.RawMessage) (string, string) {
		return `{"number":"0x3","hash":"0x01","transactions":[]}`, ""
	})
	node.on("eth_call", func(params []json.RawMessage) (string, string) {
		if len(params) != 2 || string(params[1]) != `"0x2"` {
			t.Errorf("eth_call block = %s, want parent block 0x2", params)
		}
		return "", `{"code":3,"message":"execution reverted","data":"` + hexutil.Encode(revert) + `"}`
	})

	evm := newTestEVM(t, node, nil)
	ch, err := evm.SubmitAndWatch(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitAndWatch() error = %v", err)
	}
	updates := collect(t, ch)

	last := updates[len(updates)-1]
	if last.Status != StatusFinalized {
		t.Fatalf("last status = %v, want Finalized", last.Status)
	}
	var failed *Event
	for i := range last.Events {
		if last.Events[i].Is(SectionSystem, MethodExtrinsicFailed) {
			failed = &last.Events[i]
		}
	}
	if failed == nil || failed.Dispatch == nil {
		t.Fatalf("events %v lack ExtrinsicFailed with dispatch error", last.Events)
	}
	if failed.Dispatch.Message != "Nombre no valido" {
		t.Errorf("Dispatch.Message = %q, want %q", failed.Dispatch.Message, "Nombre no valido")
	}
	if failed.Dispatch.Name != "ContractReverted" {
		t.Errorf("Dispatch.Name = %q, want ContractReverted", failed.Dispatch.Name)
	}
}

func TestSubmitAndWatchBroadcastRejected(t *testing.T) {
	node := newFakeNode(t)
	node.on("eth_sendRawTransaction", func([]json.RawMessage) (string, string) {
		return "", `{"code":-32000,"message":"nonce too low"}`
	})

	evm := newTestEVM(t, node, nil)
	_, err := evm.SubmitAndWatch(context.Background(), signedTx(t, nil))
	if err == nil || !strings.Contains(err.Error(), "nonce too low") {
		t.Errorf("SubmitAndWatch() error = %v, want nonce too low", err)
	}
}

func TestSubmitAndWatchErrorsAfterRepeatedFailures(t *testing.T) {
	node := newFakeNode(t)
	tx := signedTx(t, nil)
	node.on("eth_sendRawTransaction", func([]json.RawMessage) (string, string) {
		return `"` + tx.Hash().Hex() + `"`, ""
	})
	node.on("eth_getTransactionReceipt", func([]json.RawMessage) (string, string) {
		return "", `{"code":-32603,"message":"internal error"}`
	})

	evm := newTestEVM(t, node, nil)
	ch, err := evm.SubmitAndWatch(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitAndWatch() error = %v", err)
	}
	updates := collect(t, ch)
	last := updates[len(updates)-1]
	if last.Status != StatusError || last.Err == nil {
		t.Errorf("last update = %+v, want StatusError with Err", last)
	}
	if got := node.count("eth_getTransactionReceipt"); got != 3 {
		t.Errorf("receipt polls = %d, want 3", got)
	}
}

func TestSubmitAndWatchToleratesScatteredFailures(t *testing.T) {
	node := newFakeNode(t)
	tx := signedTx(t, nil)

	var mu sync.Mutex
	polls := 0
	node.on("eth_sendRawTransaction", func([]json.RawMessage) (string, string) {
		return `"` + tx.Hash().Hex() + `"`, ""
	})
	node.on("eth_getTransactionReceipt", func([]json.RawMessage) (string, string) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		switch {
		case polls >= 10:
			return receiptJSON(tx, "0x1", 4, "0x00000000000000000000000000000000000000000000000000000000000000d4"), ""
		case polls%2 == 1:
			return "", `{"code":-32603,"message":"internal error"}`
		default:
			return "null", ""
		}
	})
	node.on("eth_getBlockByNumber", func([]json.RawMessage) (string, string) {
		return `{"number":"0x64","hash":"0x01","transactions":[]}`, ""
	})

	evm := newTestEVM(t, node, nil)
	ch, err := evm.SubmitAndWatch(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitAndWatch() error = %v", err)
	}
	updates := collect(t, ch)
	last := updates[len(updates)-1]
	if last.Status != StatusFinalized {
		t.Errorf("last update = %v (err %v), want Finalized", last.Status, last.Err)
	}
}

func TestSubmitAndWatchRebroadcastsAfterReorg(t *testing.T) {
	node := newFakeNode(t)
	tx := signedTx(t, nil)
	const (
		hashA = "0x00000000000000000000000000000000000000000000000000000000000000a7"
		hashB = "0x00000000000000000000000000000000000000000000000000000000000000b8"
	)

	var mu sync.Mutex
	polls := 0
	node.on("eth_sendRawTransaction", func([]json.RawMessage) (string, string) {
		return `"` + tx.Hash().Hex() + `"`, ""
	})
	node.on("eth_getTransactionReceipt", func([]json.RawMessage) (string, string) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		switch polls {
		case 1:
			return receiptJSON(tx, "0x1", 7, hashA), ""
		case 2:
			return "null", ""
		default:
			return receiptJSON(tx, "0x1", 8, hashB), ""
		}
	})
	node.on("eth_getTransactionByHash", func([]json.RawMessage) (string, string) {
		return "null", ""
	})
	node.on("eth_getBlockByNumber", func([]json.RawMessage) (string, string) {
		return `{"number":"0x64","hash":"0x01","transactions":[]}`, ""
	})

	evm := newTestEVM(t, node, nil)
	ch, err := evm.SubmitAndWatch(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitAndWatch() error = %v", err)
	}
	updates := collect(t, ch)

	wantStatus := []Status{StatusBroadcast, StatusInBlock, StatusInBlock, StatusFinalized}
	if len(updates) != len(wantStatus) {
		t.Fatalf("got %d updates (%v), want %v", len(updates), updates, wantStatus)
	}
	for i, u := range updates {
		if u.Status != wantStatus[i] {
			t.Errorf("updates[%d].Status = %v, want %v", i, u.Status, wantStatus[i])
		}
	}
	if updates[3].BlockNumber != 8 {
		t.Errorf("BlockNumber = %d, want 8", updates[3].BlockNumber)
	}
	if got := node.count("eth_sendRawTransaction"); got != 2 {
		t.Errorf("broadcasts = %d, want 2", got)
	}
}

func TestFinalizedFallsBackToConfirmations(t *testing.T) {
	node := newFakeNode(t)
	node.on("eth_getBlockByNumber", func([]json.RawMessage) (string, string) {
		return "", `{"code":-32602,"message":"unknown block tag"}`
	})
	node.on("eth_blockNumber", func([]json.RawMessage) (string, string) {
		return `"0x20"`, ""
	})

	evm := newTestEVM(t, node, func(c *EVMConfig) { c.Confirmations = 2 })
	got, err := evm.finalizedNumber(context.Background())
	if err != nil {
		t.Fatalf("finalizedNumber() error = %v", err)
	}
	if got != 30 {
		t.Errorf("finalizedNumber() = %d, want 30", got)
	}

	// The tag is not retried once rejected.
	if _, err := evm.finalizedNumber(context.Background()); err != nil {
		t.Fatalf("finalizedNumber() error = %v", err)
	}
	if n := node.count("eth_getBlockByNumber"); n != 1 {
		t.Errorf("eth_getBlockByNumber calls = %d, want 1", n)
	}
}

func TestCallAndCode(t *testing.T) {
	node := newFakeNode(t)
	node.on("eth_call", func([]json.RawMessage) (string, string) { return `"0x2a"`, "" })
	node.on("eth_getCode", func([]json.RawMessage) (string, string) { return `"0x6080"`, "" })
	node.on("eth_chainId", func([]json.RawMessage) (string, string) { return `"0x7a69"`, "" })
	node.on("eth_getTransactionCount", func([]json.RawMessage) (string, string) { return `"0x5"`, "" })

	evm := newTestEVM(t, node, nil)
	ctx := context.Background()
	addr := common.HexToAddress("0x01")

	out, err := evm.Call(ctx, common.Address{}, addr, []byte{0x01})
	if err != nil || len(out) != 1 || out[0] != 0x2a {
		t.Errorf("Call() = %x, %v, want 2a", out, err)
	}
	code, err := evm.Code(ctx, addr)
	if err != nil || len(code) != 2 {
		t.Errorf("Code() = %x, %v, want 6080", code, err)
	}
	for range 2 {
		id, err := evm.ChainID(ctx)
		if err != nil || id.Int64() != 31337 {
			t.Errorf("ChainID() = %v, %v, want 31337", id, err)
		}
	}
	if n := node.count("eth_chainId"); n != 1 {
		t.Errorf("eth_chainId calls = %d, want 1 (cached)", n)
	}
	nonce, err := evm.NextIndex(ctx, addr)
	if err != nil || nonce != 5 {
		t.Errorf("NextIndex() = %d, %v, want 5", nonce, err)
	}
}

func TestHeadWatcherPublishes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub["method"] != "eth_subscribe" {
			t.Errorf("subscribe method = %v, want eth_subscribe", sub["method"])
		}
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0xsub"})
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "eth_subscription",
			"params": map[string]any{
				"subscription": "0xsub",
				"result":       map[string]any{"number": "0x11", "hash": "0xabc", "gasUsed": "0x5208", "gasLimit": "0x1c9c380"},
			},
		})
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	h := NewHeadWatcher(WSURLFromHTTP(srv.URL), nil)
	heads, unsubscribe := h.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	select {
	case head := <-heads:
		if head.Number != 17 || head.GasUsed != 21000 {
			t.Errorf("head = %+v, want number 17 gasUsed 21000", head)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no head received")
	}
	if h.Latest() != 17 {
		t.Errorf("Latest() = %d, want 17", h.Latest())
	}
}

func TestWSURLFromHTTP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8545", "ws://localhost:8545"},
		{"https://rpc.example.org", "wss://rpc.example.org"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		if got := WSURLFromHTTP(tt.in); got != tt.want {
			t.Errorf("WSURLFromHTTP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s        Status
		want     string
		terminal bool
	}{
		{StatusBroadcast, "Broadcast", false},
		{StatusInBlock, "InBlock", false},
		{StatusFinalized, "Finalized", true},
		{StatusError, "Error", true},
		{Status(42), "Status(42)", false},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.s.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.want, got, tt.terminal)
		}
	}
}
