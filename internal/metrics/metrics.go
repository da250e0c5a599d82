// Package metrics exposes prometheus counters for the coalescer, the persisted cache and the lookup service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds collectors on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	cacheLookups    *prometheus.CounterVec
	cacheEvictions  *prometheus.CounterVec
	cachePersist    *prometheus.CounterVec
	batches         *prometheus.CounterVec
	batchItems      *prometheus.HistogramVec
	chunks          *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	resolvesActive  prometheus.Gauge
	observers       prometheus.Gauge
}

// New creates metrics registered on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, expired)",
		}, []string{"result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_cache_evicted_entries_total",
			Help: "Entries removed by eviction, by kind (count, bytes)",
		}, []string{"kind"}),
		cachePersist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_cache_persist_total",
			Help: "Persisted cache writes by outcome (ok, fallback, failed)",
		}, []string{"outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_coalescer_batches_total",
			Help: "Flushed coalescer batches",
		}, []string{"request_key"}),
		batchItems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rank_coalescer_batch_items",
			Help:    "Distinct items per flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"request_key"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_coalescer_chunks_total",
			Help: "Chunk fetches by result",
		}, []string{"request_key", "result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_fetcher_requests_total",
			Help: "Remote fetch attempts by result",
		}, []string{"result"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rank_resolve_duration_seconds",
			Help:    "ResolveMany latency",
			Buckets: prometheus.DefBuckets,
		}),
		resolvesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rank_resolves_in_progress",
			Help: "ResolveMany calls currently in progress",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rank_loading_observers",
			Help: "Registered loading-state observers",
		}),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.cacheEvictions,
		m.cachePersist,
		m.batches,
		m.batchItems,
		m.chunks,
		m.fetches,
		m.resolveDuration,
		m.resolvesActive,
		m.observers,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheLookup counts cache reads by result
func (m *Metrics) RecordCacheLookup(hits, misses, expired int) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
	m.cacheLookups.WithLabelValues("expired").Add(float64(expired))
}

// RecordEviction counts entries dropped by an eviction pass
func (m *Metrics) RecordEviction(kind string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.cacheEvictions.WithLabelValues(kind).Add(float64(removed))
}

// RecordPersist counts persisted writes by outcome
func (m *Metrics) RecordPersist(outcome string) {
	if m == nil {
		return
	}
	m.cachePersist.WithLabelValues(outcome).Inc()
}

// RecordBatch implements batcher.Stats
func (m *Metrics) RecordBatch(requestKey string, items, chunks int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(requestKey).Inc()
	m.batchItems.WithLabelValues(requestKey).Observe(float64(items))
}

// RecordChunk implements batcher.Stats
func (m *Metrics) RecordChunk(requestKey string, size int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.chunks.WithLabelValues(requestKey, result).Inc()
}

// RecordFetch counts remote fetch attempts
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

// ObserveResolve tracks one ResolveMany call; call the returned func when it finishes
func (m *Metrics) ObserveResolve() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.resolvesActive.Inc()
	return func() {
		m.resolvesActive.Dec()
		m.resolveDuration.Observe(time.Since(start).Seconds())
	}
}

// SetObservers reports the number of registered observers
func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.observers.Set(float64(n))
}
