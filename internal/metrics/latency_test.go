package metrics

import (
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue sums the samples of family name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestStreamingLatencyStats_Basic(t *testing.T) {
	s := NewStreamingLatencyStats()

	for i := 0; i < 100; i++ {
		s.Add(float64(i))
	}

	stats := s.GetStats()
	if stats == nil {
		t.Fatal("expected non-nil stats")
	}

	if stats.Count != 100 {
		t.Errorf("expected count 100, got %d", stats.Count)
	}
	if stats.Min != 0 {
		t.Errorf("expected min 0, got %f", stats.Min)
	}
	if stats.Max != 99 {
		t.Errorf("expected max 99, got %f", stats.Max)
	}
	if math.Abs(stats.Avg-49.5) > 0.1 {
		t.Errorf("expected avg ~49.5, got %f", stats.Avg)
	}
	if math.Abs(stats.P50-49.5) > 2 {
		t.Errorf("expected p50 ~49.5, got %f", stats.P50)
	}
}

func TestStreamingLatencyStats_Empty(t *testing.T) {
	s := NewStreamingLatencyStats()

	if stats := s.GetStats(); stats != nil {
		t.Error("expected nil stats for empty collector")
	}
}

func TestStreamingLatencyStats_Buckets(t *testing.T) {
	s := NewStreamingLatencyStats()

	for i := 0; i < 10; i++ {
		s.Add(500) // 0-1s
	}
	for i := 0; i < 5; i++ {
		s.Add(3000) // 1s-5s
	}
	for i := 0; i < 3; i++ {
		s.Add(7000) // 5s-10s
	}
	s.Add(90000) // 60s+

	stats := s.GetStats()
	if stats == nil {
		t.Fatal("expected non-nil stats")
	}

	want := []struct {
		label string
		count int
	}{
		{"0-1s", 10},
		{"1s-5s", 5},
		{"5s-10s", 3},
		{"10s-30s", 0},
		{"30s-60s", 0},
		{"60s+", 1},
	}
	if len(stats.Buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(stats.Buckets))
	}
	for i, w := range want {
		if stats.Buckets[i].Label != w.label || stats.Buckets[i].Count != w.count {
			t.Errorf("bucket %d = %+v, want {%s %d}", i, stats.Buckets[i], w.label, w.count)
		}
	}
}

func TestStreamingLatencyStats_CustomBounds(t *testing.T) {
	s := NewStreamingLatencyStatsWithBounds([]float64{500, 250})
	s.Add(100)
	s.Add(300)

	stats := s.GetStats()
	labels := []string{"0-250ms", "250ms-500ms", "500ms+"}
	for i, l := range labels {
		if stats.Buckets[i].Label != l {
			t.Errorf("bucket %d label = %q, want %q", i, stats.Buckets[i].Label, l)
		}
	}
	if stats.Buckets[0].Count != 1 || stats.Buckets[1].Count != 1 {
		t.Errorf("buckets = %+v, want one sample in each of the first two", stats.Buckets)
	}
}

func TestStreamingLatencyStats_Concurrent(t *testing.T) {
	s := NewStreamingLatencyStats()

	var wg sync.WaitGroup
	numGoroutines := 10
	samplesPerGoroutine := 1000

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < samplesPerGoroutine; j++ {
				s.Add(float64(id*100 + j%100))
			}
		}(i)
	}

	wg.Wait()

	stats := s.GetStats()
	if stats == nil {
		t.Fatal("expected non-nil stats")
	}

	expectedCount := numGoroutines * samplesPerGoroutine
	if stats.Count != expectedCount {
		t.Errorf("expected count %d, got %d", expectedCount, stats.Count)
	}
}

func TestStreamingLatencyStats_Reset(t *testing.T) {
	s := NewStreamingLatencyStats()

	for i := 0; i < 100; i++ {
		s.Add(float64(i))
	}

	s.Reset()

	if stats := s.GetStats(); stats != nil {
		t.Error("expected nil stats after reset")
	}
	if s.Count() != 0 {
		t.Errorf("expected count 0 after reset, got %d", s.Count())
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordSubmission("addUser", "success", 0)
	m.RecordSubmission("addUser", "success", 0)
	m.RecordSubmission("addUser", "timeout", 0)
	m.ObserveRPC("eth_call", 0, nil)
	m.ObserveRPC("debug_traceTransaction", 0, nil)
	m.RecordHTTP("/create_user", "POST", 200, 0)
	m.RecordSinkError("json")

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"success submissions", "accessledger_submissions_total", map[string]string{"call": "addUser", "outcome": "success"}, 2},
		{"timeout submissions", "accessledger_submissions_total", map[string]string{"outcome": "timeout"}, 1},
		{"http requests", "accessledger_http_requests_total", map[string]string{"route": "/create_user", "code": "200"}, 1},
		{"sink errors", "accessledger_perf_sink_errors_total", map[string]string{"sink": "json"}, 1},
		{"known rpc method", "accessledger_rpc_latency_seconds", map[string]string{"method": "eth_call"}, 1},
		{"unknown rpc method bucketed", "accessledger_rpc_latency_seconds", map[string]string{"method": "other"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, reg, tt.metric, tt.labels); got != tt.want {
				t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
			}
		})
	}
}

func BenchmarkStreamingLatencyStats_Add(b *testing.B) {
	s := NewStreamingLatencyStats()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Add(float64(i % 1000))
	}
}
