package searchbase

import (
	"sync"
	"time"
)

// Metrics provides observability for store operations.
// Tags are alternating label name/value pairs.
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing.
// Tags are ignored; values are aggregated per metric name.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Counter returns the current value of a counter
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Metric names. The label set of each is fixed; see PrometheusMetrics.
const (
	MetricMergeSuccess  = "searchbase.merge.success"  // entity
	MetricMergeError    = "searchbase.merge.error"    // entity
	MetricMergeDuration = "searchbase.merge.duration" // entity
	MetricPartialWrite  = "searchbase.merge.partial"  // entity
	MetricConflict      = "searchbase.merge.conflict" // entity

	MetricFindHit      = "searchbase.find.hit"      // entity
	MetricFindMiss     = "searchbase.find.miss"     // entity
	MetricFindDuration = "searchbase.find.duration" // entity

	MetricSearchDuration = "searchbase.search.duration" // entity
	MetricSearchResults  = "searchbase.search.results"  // entity

	MetricRemoveSuccess = "searchbase.remove.success" // entity
	MetricRemoveError   = "searchbase.remove.error"   // entity

	MetricIndexOps     = "searchbase.index.ops"     // entity, operation
	MetricIndexErrors  = "searchbase.index.errors"  // entity, operation
	MetricIndexesOpen  = "searchbase.index.open"    // no labels
	MetricIndexRepairs = "searchbase.index.repairs" // entity
	MetricIndexOrphans = "searchbase.index.orphans" // entity

	MetricKVOps     = "searchbase.kv.ops"     // operation
	MetricKVErrors  = "searchbase.kv.errors"  // operation
	MetricKVLatency = "searchbase.kv.latency" // operation

	MetricConnectionRefs = "searchbase.connection.refs" // no labels
)
