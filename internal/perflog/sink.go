package perflog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Default file names inside LOG_DIR.
const (
	TextLogName = "performance_log.txt"
	JSONLogName = "performance_log.json"
)

// Sink receives every finished performance record.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec *types.PerformanceRecord) error
}

// appendFile is an append-only file guarded by a mutex.
type appendFile struct {
	mu   sync.Mutex
	file *os.File
}

func openAppend(path string) (*appendFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &appendFile{file: f}, nil
}

func (a *appendFile) write(p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.file.Write(p)
	return err
}

// Close closes the underlying file.
func (a *appendFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// TextSink appends a multi-line block per record.
type TextSink struct {
	*appendFile
}

// NewTextSink opens (or creates) path for appending.
func NewTextSink(path string) (*TextSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &TextSink{appendFile: f}, nil
}

// Name implements Sink.
func (s *TextSink) Name() string { return "txt" }

// Write implements Sink.
func (s *TextSink) Write(_ context.Context, rec *types.PerformanceRecord) error {
	return s.write([]byte(FormatText(rec)))
}

// FormatText renders rec as a performance_log.txt block.
func FormatText(rec *types.PerformanceRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %s\n", rec.Time.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Request Number: %s\n", rec.RequestNumber)
	fmt.Fprintf(&b, "GroupID: %s\n", rec.GroupID)
	fmt.Fprintf(&b, "Total Transactions: %s\n", rec.TotalTransactions)
	fmt.Fprintf(&b, "Route: %s %s\n", rec.Method, rec.Route)
	fmt.Fprintf(&b, "Method: %s\n", rec.Method)
	fmt.Fprintf(&b, "Status: %d\n", rec.Status)
	fmt.Fprintf(&b, "RefTime: %s\n", optional(rec.RefTime))
	fmt.Fprintf(&b, "ProofSize: %s\n", optional(rec.ProofSize))
	fmt.Fprintf(&b, "Tip: %s\n", optional(rec.Tip))
	if rec.TransactionCount != nil {
		fmt.Fprintf(&b, "Transaction Count: %d\n", *rec.TransactionCount)
	}
	fmt.Fprintf(&b, "Duration: %d ms\n", rec.DurationMs)
	fmt.Fprintf(&b, "CPU Usage (start): %.2f%%\n", rec.CPUUsageStart)
	fmt.Fprintf(&b, "CPU Usage (end): %.2f%%\n", rec.CPUUsageEnd)
	fmt.Fprintf(&b, "RAM Usage (start): %.2f%%\n", rec.RAMUsageStart)
	fmt.Fprintf(&b, "RAM Usage (end): %.2f%%\n", rec.RAMUsageEnd)
	fmt.Fprintf(&b, "Transaction Success: %s\n", rec.TransactionSuccess)
	fmt.Fprintf(&b, "Parameters Length: %d\n", rec.ParametersLength)
	fmt.Fprintf(&b, "Test Type: %s\n", rec.TestType)
	b.WriteString("---\n")
	return b.String()
}

func optional(v *uint64) string {
	if v == nil {
		return types.NotAvailable
	}
	return strconv.FormatUint(*v, 10)
}

// JSONSink appends one JSON object per line.
type JSONSink struct {
	*appendFile
}

// NewJSONSink opens (or creates) path for appending.
func NewJSONSink(path string) (*JSONSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &JSONSink{appendFile: f}, nil
}

// Name implements Sink.
func (s *JSONSink) Name() string { return "json" }

// Write implements Sink.
func (s *JSONSink) Write(_ context.Context, rec *types.PerformanceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.write(append(data, '\n'))
}

// StorageSink inserts records into the performance_records table.
type StorageSink struct {
	store   storage.Storage
	timeout time.Duration
}

// NewStorageSink wraps store. Inserts outlive client disconnects up to timeout.
func NewStorageSink(store storage.Storage, timeout time.Duration) *StorageSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StorageSink{store: store, timeout: timeout}
}

// Name implements Sink.
func (s *StorageSink) Name() string { return "sqlite" }

// Write implements Sink.
func (s *StorageSink) Write(ctx context.Context, rec *types.PerformanceRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.store.InsertPerformanceRecord(ctx, &storage.StoredRecord{PerformanceRecord: *rec})
}

// Broadcaster pushes records to live subscribers.
type Broadcaster interface {
	BroadcastRecord(rec types.PerformanceRecord)
}

// BroadcastSink forwards records to a Broadcaster.
type BroadcastSink struct {
	b Broadcaster
}

// NewBroadcastSink wraps b.
func NewBroadcastSink(b Broadcaster) *BroadcastSink {
	return &BroadcastSink{b: b}
}

// Name implements Sink.
func (s *BroadcastSink) Name() string { return "ws" }

// Write implements Sink.
func (s *BroadcastSink) Write(_ context.Context, rec *types.PerformanceRecord) error {
	s.b.BroadcastRecord(*rec)
	return nil
}
