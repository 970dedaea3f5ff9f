package ledger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// Head is a new block notification.
type Head struct {
	Number   uint64
	Hash     string
	GasUsed  uint64
	GasLimit uint64
}

// HeadWatcher keeps a newHeads subscription open and fans heads out to subscribers.
// It logs every head so the block stream is visible next to the request logs.
type HeadWatcher struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Head
	nextID int

	latest    atomic.Uint64
	connected atomic.Bool
}

// WSURLFromHTTP converts http://host:port to ws://host:port.
func WSURLFromHTTP(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	default:
		return httpURL
	}
}

// NewHeadWatcher creates a watcher for the websocket endpoint at url.
func NewHeadWatcher(url string, logger *slog.Logger) *HeadWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadWatcher{
		url:    url,
		logger: logger,
		subs:   make(map[int]chan Head),
	}
}

// Subscribe returns a channel of heads and a function that removes the subscription.
// Slow subscribers miss heads rather than block the watcher.
func (h *HeadWatcher) Subscribe() (<-chan Head, func()) {
	ch := make(chan Head, 16)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Latest returns the highest head number seen so far.
func (h *HeadWatcher) Latest() uint64 {
	return h.latest.Load()
}

// Connected reports whether the subscription is currently open.
func (h *HeadWatcher) Connected() bool {
	return h.connected.Load()
}

// Run keeps the subscription alive until ctx is cancelled, reconnecting with backoff.
func (h *HeadWatcher) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := h.runOnce(ctx)
		h.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("newHeads subscription lost, reconnecting",
			slog.String("url", h.url),
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (h *HeadWatcher) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return err
	}

	h.connected.Store(true)
	h.logger.Info("subscribed to newHeads", slog.String("url", h.url))

	for {
		var msg struct {
			Method string `json:"method"`
			Params *struct {
				Result struct {
					Number   string `json:"number"`
					Hash     string `json:"hash"`
					GasUsed  string `json:"gasUsed"`
					GasLimit string `json:"gasLimit"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Params == nil {
			continue
		}

		num, err := hexutil.DecodeUint64(msg.Params.Result.Number)
		if err != nil {
			continue
		}
		gasUsed, _ := hexutil.DecodeUint64(msg.Params.Result.GasUsed)
		gasLimit, _ := hexutil.DecodeUint64(msg.Params.Result.GasLimit)
		h.publish(Head{
			Number:   num,
			Hash:     msg.Params.Result.Hash,
			GasUsed:  gasUsed,
			GasLimit: gasLimit,
		})
	}
}

func (h *HeadWatcher) publish(head Head) {
	for {
		cur := h.latest.Load()
		if head.Number <= cur || h.latest.CompareAndSwap(cur, head.Number) {
			break
		}
	}

	h.logger.Info("new head",
		slog.Uint64("number", head.Number),
		slog.String("hash", head.Hash),
		slog.Uint64("gasUsed", head.GasUsed),
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- head:
		default:
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
