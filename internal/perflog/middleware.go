// Package perflog records a performance observation for every facade request.
package perflog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gateway-fm/accessledger/pkg/types"
)

// DefaultMaxBodyBytes bounds the request body the middleware buffers.
const DefaultMaxBodyBytes = 1 << 20

// ErrorRecorder counts sink failures.
type ErrorRecorder interface {
	RecordSinkError(sink string)
}

// Config configures the performance middleware.
type Config struct {
	Sinks        []Sink
	Sampler      Sampler
	Errors       ErrorRecorder
	Logger       *slog.Logger
	MaxBodyBytes int64
	Now          func() time.Time
}

// Middleware wraps handlers with timing, resource sampling and record sinks.
type Middleware struct {
	sinks   []Sink
	sampler Sampler
	errors  ErrorRecorder
	logger  *slog.Logger
	maxBody int64
	now     func() time.Time
}

// New creates a Middleware. A nil Sampler uses SystemSampler.
func New(cfg Config) *Middleware {
	m := &Middleware{
		sinks:   cfg.Sinks,
		sampler: cfg.Sampler,
		errors:  cfg.Errors,
		logger:  cfg.Logger,
		maxBody: cfg.MaxBodyBytes,
		now:     cfg.Now,
	}
	if m.sampler == nil {
		m.sampler = SystemSampler{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.maxBody <= 0 {
		m.maxBody = DefaultMaxBodyBytes
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Handler implements the chi middleware signature.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := m.bufferBody(r)
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}

		ctx, ann := WithAnnotation(r.Context())
		r = r.WithContext(ctx)

		start := m.now()
		before := m.sample(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := m.now().Sub(start)
		after := m.sample(ctx)
		if f, ok := ww.(http.Flusher); ok {
			f.Flush()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		rec := &types.PerformanceRecord{
			Time:             m.now(),
			Route:            r.URL.Path,
			Method:           r.Method,
			Status:           status,
			DurationMs:       elapsed.Milliseconds(),
			CPUUsageStart:    before.CPU,
			CPUUsageEnd:      after.CPU,
			RAMUsageStart:    before.RAM,
			RAMUsageEnd:      after.RAM,
			ParametersLength: parametersLength(body),
		}
		tags := extractTags(r, body)
		rec.RequestNumber = tags["requestNumber"]
		rec.GroupID = tags["groupID"]
		rec.TotalTransactions = tags["totalTransactions"]
		rec.TestType = tags["testType"]
		ann.apply(rec)

		m.emit(ctx, rec)
	})
}

func (m *Middleware) bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, m.maxBody))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func (m *Middleware) sample(ctx context.Context) Usage {
	u, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Debug("resource sample failed", slog.String("error", err.Error()))
	}
	return u
}

func (m *Middleware) emit(ctx context.Context, rec *types.PerformanceRecord) {
	for _, s := range m.sinks {
		if err := s.Write(ctx, rec); err != nil {
			m.logger.Warn("performance sink write failed",
				slog.String("sink", s.Name()),
				slog.String("route", rec.Route),
				slog.String("error", err.Error()),
			)
			if m.errors != nil {
				m.errors.RecordSinkError(s.Name())
			}
		}
	}
}

// parametersLength is the length of the compact JSON body, or 0 for an empty or non-JSON body.
func parametersLength(body []byte) int {
	if len(bytes.TrimSpace(body)) == 0 {
		return 0
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return 0
	}
	return buf.Len()
}

var tagNames = []string{"requestNumber", "groupID", "totalTransactions", "testType"}

// extractTags reads the load test tags from the query string first, then the JSON body.
func extractTags(r *http.Request, body []byte) map[string]string {
	var fields map[string]any
	if len(body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		_ = dec.Decode(&fields)
	}

	q := r.URL.Query()
	tags := make(map[string]string, len(tagNames))
	for _, name := range tagNames {
		v := q.Get(name)
		if v == "" {
			v = stringify(fields[name])
		}
		if v == "" {
			v = types.NotAvailable
		}
		tags[name] = v
	}
	return tags
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
