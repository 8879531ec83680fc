// Package metrics holds the Prometheus collectors of the service. A nil
// *Metrics is valid and records nothing, which is how metrics are disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvstore"

// Operation outcomes recorded on kvstore_storage_operations_total
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
)

type Metrics struct {
	registry *prometheus.Registry

	storageOps     *prometheus.CounterVec   // By backend, operation and outcome
	storageLatency *prometheus.HistogramVec // By backend and operation
	valueBytes     *prometheus.HistogramVec // By operation
	cacheLookups   *prometheus.CounterVec   // By layer and result
	httpRequests   *prometheus.CounterVec   // By method, route and status
}

// New creates the collectors on a dedicated registry, together with the Go
// runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of storage operations",
		}, []string{"backend", "operation", "outcome"}),

		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"backend", "operation"}),

		valueBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "value_bytes",
			Help:      "Size of values read and written",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"operation"}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of read cache lookups",
		}, []string{"layer", "result"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.storageOps,
		m.storageLatency,
		m.valueBytes,
		m.cacheLookups,
		m.httpRequests,
	)
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStorageOp records one storage operation and its latency
func (m *Metrics) ObserveStorageOp(backend, operation, outcome string, d time.Duration) {
	if m != nil {
		m.storageOps.WithLabelValues(backend, operation, outcome).Inc()
		m.storageLatency.WithLabelValues(backend, operation).Observe(d.Seconds())
	}
}

// ObserveValueSize records the size of a value read or written
func (m *Metrics) ObserveValueSize(operation string, n int) {
	if m != nil {
		m.valueBytes.WithLabelValues(operation).Observe(float64(n))
	}
}

// CacheLookup records a hit or miss on a cache layer
func (m *Metrics) CacheLookup(layer string, hit bool) {
	if m != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		m.cacheLookups.WithLabelValues(layer, result).Inc()
	}
}

// HTTPRequest records a served HTTP request
func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m != nil {
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
}

// cacheSizeCollector reads the size of a cache layer at scrape time
type cacheSizeCollector struct {
	stats   func() (entries int, bytes int64)
	entries *prometheus.Desc
	bytes   *prometheus.Desc
}

func (c *cacheSizeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.bytes
}

func (c *cacheSizeCollector) Collect(ch chan<- prometheus.Metric) {
	entries, size := c.stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(entries))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(size))
}

// RegisterCacheSize exposes kvstore_cache_entries and kvstore_cache_size_bytes
// for layer, computed by stats on every scrape
func (m *Metrics) RegisterCacheSize(layer string, stats func() (entries int, bytes int64)) error {
	if m == nil {
		return nil
	}
	labels := prometheus.Labels{"layer": layer}
	return m.registry.Register(&cacheSizeCollector{
		stats: stats,
		entries: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "entries"),
			"Number of entries held by a cache layer", nil, labels),
		bytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "size_bytes"),
			"Total size of the entries held by a cache layer", nil, labels),
	})
}
