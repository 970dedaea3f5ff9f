// Package metrics holds Prometheus metrics and latency statistics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for the facade.
type PrometheusMetrics struct {
	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	InFlight     prometheus.Gauge

	// Submissions
	Submissions        *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	StageLatency       *prometheus.HistogramVec
	Tip                prometheus.Histogram

	// Ledger
	RPCLatency *prometheus.HistogramVec
	HeadNumber prometheus.Gauge

	// Sidecar
	PerfSinkErrors *prometheus.CounterVec
	WSClients      prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessledger_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessledger_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"route", "method"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessledger_http_in_flight_requests",
				Help: "Requests currently being served",
			},
		),

		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessledger_submissions_total",
				Help: "Transaction submissions by call and outcome",
			},
			[]string{"call", "outcome"},
		),

		SubmissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessledger_submission_duration_seconds",
				Help:    "Time from signing to resolution",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"call"},
		),

		StageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessledger_stage_latency_seconds",
				Help:    "Time from broadcast to each status stage",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"call", "stage"},
		),

		Tip: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessledger_tip_units",
				Help:    "Tip attached to submissions, in tip units",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 500, 1000},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessledger_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "status"},
		),

		HeadNumber: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessledger_head_block_number",
				Help: "Latest block number seen on the newHeads subscription",
			},
		),

		PerfSinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessledger_perf_sink_errors_total",
				Help: "Performance record write failures by sink",
			},
			[]string{"sink"},
		),

		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessledger_ws_clients",
				Help: "Connected performance stream clients",
			},
		),
	}
}

// RecordHTTP records a served request.
func (m *PrometheusMetrics) RecordHTTP(route, method string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordSubmission implements submitter.Recorder.
func (m *PrometheusMetrics) RecordSubmission(call, outcome string, elapsed time.Duration) {
	m.Submissions.WithLabelValues(call, outcome).Inc()
	m.SubmissionDuration.WithLabelValues(call).Observe(elapsed.Seconds())
}

// RecordStage implements submitter.Recorder.
func (m *PrometheusMetrics) RecordStage(call, stage string, sinceBroadcast time.Duration) {
	m.StageLatency.WithLabelValues(call, stage).Observe(sinceBroadcast.Seconds())
}

// RecordTip implements submitter.Recorder.
func (m *PrometheusMetrics) RecordTip(tip uint64) {
	m.Tip.Observe(float64(tip))
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_chainId":               true,
	"eth_blockNumber":           true,
	"eth_getBlockByNumber":      true,
	"eth_getCode":               true,
	"eth_gasPrice":              true,
	"eth_getBalance":            true,
	"eth_getTransactionReceipt": true,
	"eth_getTransactionByHash":  true,
	"eth_call":                  true,
}

// ObserveRPC records RPC call latency. It matches the rpc.Observer signature.
func (m *PrometheusMetrics) ObserveRPC(method string, elapsed time.Duration, err error) {
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(elapsed.Seconds())
}

// SetHead updates the head block gauge.
func (m *PrometheusMetrics) SetHead(number uint64) {
	m.HeadNumber.Set(float64(number))
}

// RecordSinkError counts a failed performance record write.
func (m *PrometheusMetrics) RecordSinkError(sink string) {
	m.PerfSinkErrors.WithLabelValues(sink).Inc()
}
