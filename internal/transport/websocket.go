package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/accessledger/internal/metrics"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Stream settings
const (
	recordBufferSize = 256
	writeWait        = 5 * time.Second
)

// RecordHub streams performance records to WebSocket clients.
// It implements perflog.Broadcaster.
type RecordHub struct {
	logger   *slog.Logger
	metrics  *metrics.PrometheusMetrics
	upgrader websocket.Upgrader

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	records chan types.PerformanceRecord
	dropped int64

	done     chan struct{}
	stopOnce sync.Once
}

// NewRecordHub creates a hub. Origins extends the same host and localhost defaults;
// a "*" entry allows any origin.
func NewRecordHub(origins []string, m *metrics.PrometheusMetrics, logger *slog.Logger) *RecordHub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &RecordHub{
		logger:  logger,
		metrics: m,
		clients: make(map[*websocket.Conn]bool),
		records: make(chan types.PerformanceRecord, recordBufferSize),
		done:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		if originURL.Host == r.Host {
			return true
		}

		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handler returns the WebSocket HTTP handler.
func (h *RecordHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		n := h.register(conn)
		h.logger.Debug("WebSocket client connected", slog.Int("total_clients", n))

		defer func() {
			n := h.unregister(conn)
			h.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", n))
		}()

		// Clients only read; the loop notices disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

func (h *RecordHub) register(conn *websocket.Conn) int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[conn] = true
	h.setGauge()
	return len(h.clients)
}

func (h *RecordHub) unregister(conn *websocket.Conn) int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	h.setGauge()
	return len(h.clients)
}

// setGauge must be called with clientsMu held.
func (h *RecordHub) setGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}

// BroadcastRecord queues rec for delivery. It never blocks; records are dropped when the queue is full.
func (h *RecordHub) BroadcastRecord(rec types.PerformanceRecord) {
	select {
	case h.records <- rec:
	default:
		h.clientsMu.Lock()
		h.dropped++
		h.clientsMu.Unlock()
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (h *RecordHub) Dropped() int64 {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return h.dropped
}

// Start begins the broadcasting goroutine.
func (h *RecordHub) Start() {
	go h.broadcastLoop()
}

// Stop stops the hub and closes all client connections.
func (h *RecordHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.clientsMu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.setGauge()
		h.clientsMu.Unlock()
	})
}

func (h *RecordHub) broadcastLoop() {
	for {
		select {
		case <-h.done:
			return
		case rec := <-h.records:
			h.send(rec)
		}
	}
}

// send writes rec to every client. It is only called from broadcastLoop, the single writer.
func (h *RecordHub) send(rec types.PerformanceRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("Failed to marshal record", slog.String("error", err.Error()))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Will be cleaned up by the read loop
			h.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *RecordHub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
