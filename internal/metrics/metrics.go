// Package metrics provides Prometheus metrics collection for the image cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup tiers.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
	TierMiss   = "miss"
)

// Fetch and write results.
const (
	ResultOK      = "ok"
	ResultDecode  = "decode"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// Metrics owns a private registry so several caches (tests, embedded use)
// never collide on the global default registerer. All methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	joins         prometheus.Counter
	diskWrites    *prometheus.CounterVec
	evictions     prometheus.Counter
	fetchDuration prometheus.Histogram
	memoryEntries prometheus.Gauge
	memoryBytes   prometheus.Gauge
}

// New creates the collectors and registers them, plus Go/process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocache_lookups_total",
				Help: "Synchronous cache lookups by satisfying tier",
			},
			[]string{"tier"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocache_fetches_total",
				Help: "Remote image fetches by result",
			},
			[]string{"result"},
		),
		joins: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "photocache_fetch_joins_total",
				Help: "Requests that attached to an in-flight download instead of starting one",
			},
		),
		diskWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocache_disk_writes_total",
				Help: "Background disk writes by result",
			},
			[]string{"result"},
		),
		evictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "photocache_memory_evictions_total",
				Help: "Entries evicted from the memory tier by count or byte limits",
			},
		),
		fetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "photocache_fetch_duration_seconds",
				Help:    "Remote fetch and decode duration in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		memoryEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "photocache_memory_entries",
				Help: "Entries currently held by the memory tier",
			},
		),
		memoryBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "photocache_memory_bytes",
				Help: "Decoded bytes currently held by the memory tier",
			},
		),
	}
}

// Registry exposes the underlying registry (tests, custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLookup counts which tier satisfied a synchronous lookup.
func (m *Metrics) RecordLookup(tier string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(tier).Inc()
}

// RecordFetch counts a remote fetch outcome and observes its duration.
func (m *Metrics) RecordFetch(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(elapsed.Seconds())
}

// RecordJoin counts a request that shared another caller's download.
func (m *Metrics) RecordJoin() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

// RecordDiskWrite counts a background disk write outcome.
func (m *Metrics) RecordDiskWrite(result string) {
	if m == nil {
		return
	}
	m.diskWrites.WithLabelValues(result).Inc()
}

// RecordEviction counts memory evictions.
func (m *Metrics) RecordEviction(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// SetMemoryUsage publishes the memory tier occupancy.
func (m *Metrics) SetMemoryUsage(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.memoryEntries.Set(float64(entries))
	m.memoryBytes.Set(float64(bytes))
}
