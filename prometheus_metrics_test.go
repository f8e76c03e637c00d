package searchbase

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if len(metrics.counters) == 0 {
		t.Error("expected counters to be registered")
	}
	if len(metrics.histograms) == 0 {
		t.Error("expected histograms to be registered")
	}
	if len(metrics.gauges) == 0 {
		t.Error("expected gauges to be registered")
	}
}

func TestPrometheusMetricsIncrement(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment(MetricMergeSuccess, "entity", "Event")
	metrics.Increment(MetricMergeSuccess, "entity", "Event")
	metrics.Increment(MetricIndexOps, "entity", "Event", "operation", "add")

	if got := testutil.ToFloat64(metrics.counters[MetricMergeSuccess].WithLabelValues("Event")); got != 2 {
		t.Errorf("merge success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.counters[MetricIndexOps].WithLabelValues("Event", "add")); got != 1 {
		t.Errorf("index ops = %v, want 1", got)
	}
}

func TestPrometheusMetricsGaugeAndTiming(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Gauge(MetricIndexesOpen, 4)
	metrics.Timing(MetricKVLatency, 20*time.Millisecond, "operation", "get")

	if got := testutil.ToFloat64(metrics.gauges[MetricIndexesOpen].WithLabelValues()); got != 4 {
		t.Errorf("indexes open = %v, want 4", got)
	}
	if got := testutil.CollectAndCount(metrics.histograms[MetricKVLatency]); got != 1 {
		t.Errorf("expected 1 latency series, got %d", got)
	}
}

func TestPrometheusMetricsDynamic(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment("custom.events", "kind", "test")
	metrics.Increment("custom.events", "kind", "test")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "searchbase_custom_events" {
			found = true
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 2 {
				t.Errorf("custom counter = %v, want 2", v)
			}
		}
	}
	if !found {
		t.Error("dynamic counter was not registered")
	}
}

func TestSanitizeMetricName(t *testing.T) {
	if got := sanitizeMetricName("a.b-c"); got != "a_b_c" {
		t.Errorf("sanitizeMetricName = %q", got)
	}
}
