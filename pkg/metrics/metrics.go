package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one sync session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Cache metrics
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheEvictionsTotal   *prometheus.CounterVec
	CacheExpirationsTotal *prometheus.CounterVec
	CacheEntries          *prometheus.GaugeVec

	// Synchronizer metrics
	LoadsTotal         *prometheus.CounterVec
	LoadDuration       *prometheus.HistogramVec
	MutationsTotal     *prometheus.CounterVec
	RollbacksTotal     *prometheus.CounterVec
	RefetchesTotal     *prometheus.CounterVec
	PollTicksTotal     *prometheus.CounterVec
	SubscriptionStatus *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry so several sessions
// in one process never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_cache_hits_total",
				Help: "Total number of fresh cache hits",
			},
			[]string{"cache_name"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_name"},
		),
		CacheEvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_cache_evictions_total",
				Help: "Total number of capacity evictions",
			},
			[]string{"cache_name"},
		),
		CacheExpirationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_cache_expirations_total",
				Help: "Total number of entries dropped past their max age",
			},
			[]string{"cache_name"},
		),
		CacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sync_cache_entries",
				Help: "Current number of cache entries",
			},
			[]string{"cache_name"},
		),
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_loads_total",
				Help: "Total number of synchronizer loads by outcome",
			},
			[]string{"feature", "outcome"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_load_duration_seconds",
				Help:    "Remote fetch latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"feature"},
		),
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_mutations_total",
				Help: "Total number of optimistic mutations by outcome",
			},
			[]string{"feature", "outcome"},
		),
		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_rollbacks_total",
				Help: "Total number of optimistic edits rolled back",
			},
			[]string{"feature"},
		),
		RefetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_debounced_refetches_total",
				Help: "Total number of refetches fired by change notifications",
			},
			[]string{"feature", "trigger"},
		),
		PollTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_poll_ticks_total",
				Help: "Total number of polling ticks by result",
			},
			[]string{"feature", "result"},
		),
		SubscriptionStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_subscription_status_total",
				Help: "Realtime subscription status transitions",
			},
			[]string{"table", "status"},
		),
	}
}

// RecordCacheHit records a fresh cache hit
func (m *Metrics) RecordCacheHit(cacheName string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(cacheName string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
}

// RecordEviction records a capacity eviction
func (m *Metrics) RecordEviction(cacheName string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(cacheName).Inc()
}

// RecordExpiration records an entry dropped past its max age
func (m *Metrics) RecordExpiration(cacheName string) {
	if m == nil {
		return
	}
	m.CacheExpirationsTotal.WithLabelValues(cacheName).Inc()
}

// SetCacheEntries sets the current entry count
func (m *Metrics) SetCacheEntries(cacheName string, n int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cacheName).Set(float64(n))
}

// RecordLoad records a synchronizer load outcome and, for remote fetches, its latency
func (m *Metrics) RecordLoad(feature, outcome string, fetch time.Duration) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(feature, outcome).Inc()
	if fetch > 0 {
		m.LoadDuration.WithLabelValues(feature).Observe(fetch.Seconds())
	}
}

// RecordMutation records a mutation outcome
func (m *Metrics) RecordMutation(feature, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(feature, outcome).Inc()
}

// RecordRollback records an optimistic edit being rolled back
func (m *Metrics) RecordRollback(feature string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(feature).Inc()
}

// RecordRefetch records a refetch fired by a trigger ("debounce" or "poll")
func (m *Metrics) RecordRefetch(feature, trigger string) {
	if m == nil {
		return
	}
	m.RefetchesTotal.WithLabelValues(feature, trigger).Inc()
}

// RecordPollTick records a polling tick result ("ran", "skipped_inflight", "skipped_inactive")
func (m *Metrics) RecordPollTick(feature, result string) {
	if m == nil {
		return
	}
	m.PollTicksTotal.WithLabelValues(feature, result).Inc()
}

// RecordSubscriptionStatus records a realtime status transition
func (m *Metrics) RecordSubscriptionStatus(table, status string) {
	if m == nil {
		return
	}
	m.SubscriptionStatus.WithLabelValues(table, status).Inc()
}
