package searchbase

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
// The store's metrics are registered up front with fixed label sets; any
// other name is registered on first use with the label names it was given.
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   prometheus.Registerer
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// If registerer is nil, the default Prometheus registerer is used.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registerer,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(key, subsystem, name, help string, labels ...string) {
	p.counters[key] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchbase",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func (p *PrometheusMetrics) histogram(key, subsystem, name, help string, buckets []float64, labels ...string) {
	p.histograms[key] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchbase",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

func (p *PrometheusMetrics) gauge(key, subsystem, name, help string) {
	p.gauges[key] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "searchbase",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		[]string{},
	)
}

// registerDefaultMetrics registers every metric the store emits
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counter(MetricMergeSuccess, "merge", "success_total", "Entities merged into both backends", "entity")
	p.counter(MetricMergeError, "merge", "errors_total", "Merges that failed before the key-value write", "entity")
	p.counter(MetricPartialWrite, "merge", "partial_total", "Merges stored but not indexed", "entity")
	p.counter(MetricConflict, "merge", "conflicts_total", "Merges rejected by optimistic versioning", "entity")

	p.counter(MetricFindHit, "find", "hits_total", "Lookups that returned at least one entity", "entity")
	p.counter(MetricFindMiss, "find", "misses_total", "Lookups that returned nothing", "entity")

	p.counter(MetricRemoveSuccess, "remove", "success_total", "Entities removed from both backends", "entity")
	p.counter(MetricRemoveError, "remove", "errors_total", "Removals with at least one backend failure", "entity")

	p.counter(MetricIndexOps, "index", "operations_total", "Search index operations", "entity", "operation")
	p.counter(MetricIndexErrors, "index", "errors_total", "Search index operation failures", "entity", "operation")
	p.counter(MetricIndexRepairs, "index", "repairs_total", "Index documents rebuilt by reconciliation", "entity")
	p.counter(MetricIndexOrphans, "index", "orphans_total", "Orphaned index documents deleted by reconciliation", "entity")

	p.counter(MetricKVOps, "kv", "operations_total", "Raw key-value operations", "operation")
	p.counter(MetricKVErrors, "kv", "errors_total", "Raw key-value operation failures", "operation")

	latency := []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}
	p.histogram(MetricMergeDuration, "merge", "duration_seconds", "Merge duration in seconds", latency, "entity")
	p.histogram(MetricFindDuration, "find", "duration_seconds", "Lookup duration in seconds", latency, "entity")
	p.histogram(MetricSearchDuration, "search", "duration_seconds", "Index query duration in seconds", latency, "entity")
	p.histogram(MetricSearchResults, "search", "results", "Number of hits returned by index queries",
		[]float64{0, 1, 5, 10, 25, 50, 100, 250, 1000}, "entity")
	p.histogram(MetricKVLatency, "kv", "duration_seconds", "Raw key-value operation duration in seconds", latency, "operation")

	p.gauge(MetricIndexesOpen, "index", "registered", "Search indexes currently held in the registry")
	p.gauge(MetricConnectionRefs, "connection", "refs", "Operations currently holding the key-value connection")
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "searchbase",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "searchbase",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "searchbase",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// sanitizeMetricName maps dotted metric names to Prometheus-legal ones
func sanitizeMetricName(name string) string {
	out := []byte(name)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}
