package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}

	// Test Error() method
	errStr := err.Error()
	if errStr != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q, want %q", errStr, "RPC error -32000: nonce too low")
	}

	if !isRPCError(err) {
		t.Error("isRPCError should return true for *RPCError")
	}

	if _, ok := err.RevertData(); ok {
		t.Error("RevertData() ok = true for error without data")
	}

	withData := &RPCError{Code: 3, Message: "execution reverted", Data: "0x08c379a0"}
	data, ok := withData.RevertData()
	if !ok || len(data) != 4 {
		t.Errorf("RevertData() = %x, %v, want 4 bytes", data, ok)
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "502 Bad Gateway",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestIsRetryableHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantBool bool
	}{
		{
			name:     "retryable HTTP error",
			err:      &HTTPStatusError{StatusCode: 429},
			wantBool: true,
		},
		{
			name:     "non-retryable HTTP error",
			err:      &HTTPStatusError{StatusCode: 400},
			wantBool: false,
		},
		{
			name:     "RPC error",
			err:      &RPCError{Code: -32000, Message: "test"},
			wantBool: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableHTTPError(tt.err); got != tt.wantBool {
				t.Errorf("isRetryableHTTPError() = %v, want %v", got, tt.wantBool)
			}
		})
	}
}

func TestGetRetryDelay(t *testing.T) {
	defaultBackoff := 100 * time.Millisecond

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
	}{
		{
			name:      "HTTP error with Retry-After",
			err:       &HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second},
			wantDelay: 2 * time.Second,
		},
		{
			name:      "HTTP error without Retry-After",
			err:       &HTTPStatusError{StatusCode: 503},
			wantDelay: defaultBackoff,
		},
		{
			name:      "RPC error uses default",
			err:       &RPCError{Code: -32000, Message: "test"},
			wantDelay: defaultBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getRetryDelay(tt.err, defaultBackoff); got != tt.wantDelay {
				t.Errorf("getRetryDelay() = %v, want %v", got, tt.wantDelay)
			}
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	url := "http://localhost:8545"
	cfg := DefaultClientConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 5*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", cfg.MaxBackoff)
	}
}

// rpcHandler answers each method with a canned result or error object.
func rpcHandler(t *testing.T, results map[string]string, errs map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req JSONRPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if e, ok := errs[req.Method]; ok {
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":`+e+`}`)
			return
		}
		res, ok := results[req.Method]
		if !ok {
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+res+`}`)
	}
}

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultClientConfig(srv.URL)
	cfg.MaxRetries = 0
	return NewHTTPClient(cfg)
}

func TestGetTransactionReceipt(t *testing.T) {
	receipt := `{
		"transactionHash":"0xaa",
		"blockHash":"0xbb",
		"status":"0x1",
		"gasUsed":"0x5208",
		"blockNumber":"0x10",
		"effectiveGasPrice":"0x3b9aca00",
		"logs":[{"address":"0xcc","topics":["0x01"],"data":"0x"}]
	}`
	c := newTestClient(t, rpcHandler(t, map[string]string{"eth_getTransactionReceipt": receipt}, nil))

	got, err := c.GetTransactionReceipt(context.Background(), "0xaa")
	if err != nil {
		t.Fatalf("GetTransactionReceipt() error = %v", err)
	}
	if got.Status != 1 || got.GasUsed != 21000 || got.BlockNumber != 16 {
		t.Errorf("receipt = %+v, want status 1 gas 21000 block 16", got)
	}
	if got.BlockHash != "0xbb" {
		t.Errorf("BlockHash = %q, want 0xbb", got.BlockHash)
	}
	if len(got.Logs) != 1 || got.Logs[0].Address != "0xcc" {
		t.Errorf("Logs = %+v, want one log from 0xcc", got.Logs)
	}
}

func TestGetTransactionReceiptNotMined(t *testing.T) {
	c := newTestClient(t, rpcHandler(t, map[string]string{"eth_getTransactionReceipt": "null"}, nil))

	got, err := c.GetTransactionReceipt(context.Background(), "0xaa")
	if err != nil {
		t.Fatalf("GetTransactionReceipt() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetTransactionReceipt() = %+v, want nil", got)
	}
}

func TestEthCallRevertData(t *testing.T) {
	c := newTestClient(t, rpcHandler(t, nil, map[string]string{
		"eth_call": `{"code":3,"message":"execution reverted","data":"0xdeadbeef"}`,
	}))

	_, err := c.EthCall(context.Background(), CallMsg{To: "0x01"}, "latest")
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("EthCall() error = %T, want *RPCError", err)
	}
	data, ok := rpcErr.RevertData()
	if !ok || len(data) != 4 || data[0] != 0xde {
		t.Errorf("RevertData() = %x, %v, want deadbeef", data, ok)
	}
}

func TestSendRawTransactionReturnsHash(t *testing.T) {
	c := newTestClient(t, rpcHandler(t, map[string]string{"eth_sendRawTransaction": `"0xabc"`}, nil))

	hash, err := c.SendRawTransaction(context.Background(), []byte{0x01})
	if err != nil {
		t.Fatalf("SendRawTransaction() error = %v", err)
	}
	if hash != "0xabc" {
		t.Errorf("SendRawTransaction() = %q, want 0xabc", hash)
	}
}

func TestObserverSeesEveryCall(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]string{"eth_blockNumber": `"0x2a"`}, nil))
	t.Cleanup(srv.Close)

	var methods []string
	cfg := DefaultClientConfig(srv.URL)
	cfg.Observer = func(method string, _ time.Duration, _ error) {
		methods = append(methods, method)
	}
	c := NewHTTPClient(cfg)

	n, err := c.GetBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("GetBlockNumber() error = %v", err)
	}
	if n != 42 {
		t.Errorf("GetBlockNumber() = %d, want 42", n)
	}
	if len(methods) != 1 || methods[0] != "eth_blockNumber" {
		t.Errorf("observer methods = %v, want [eth_blockNumber]", methods)
	}
}

func TestGetHeaderFinalizedUnsupported(t *testing.T) {
	c := newTestClient(t, rpcHandler(t, nil, map[string]string{
		"eth_getBlockByNumber": `{"code":-32602,"message":"invalid block tag"}`,
	}))

	_, err := c.GetHeader(context.Background(), "finalized")
	if !isRPCError(err) {
		t.Errorf("GetHeader() error = %v, want *RPCError", err)
	}
}
