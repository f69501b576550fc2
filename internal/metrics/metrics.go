// Package metrics provides Prometheus metrics for the query and cache layer
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors used by querycache.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec
	InvalidationsTotal   *prometheus.CounterVec

	// Database metrics
	DbOperationsTotal   *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec

	// Schema catalog metrics
	SchemaLoadsTotal *prometheus.CounterVec
}

// New creates and registers all collectors on the given registerer.
// Passing nil registers on the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{}

	m.CacheOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_cache_operations_total",
			Help: "Total number of cache operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	m.InvalidationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_invalidations_total",
			Help: "Total number of tag invalidations triggered by writes",
		},
		[]string{"table", "operation"},
	)

	m.DbOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	m.DbOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querycache_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.SchemaLoadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_schema_loads_total",
			Help: "Schema lookups by the tier that served them",
		},
		[]string{"tier"},
	)

	return m
}

// RecordCache records a cache operation outcome ("hit", "miss", "error", "ok")
func (m *Metrics) RecordCache(operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordInvalidation records a write-triggered invalidation
func (m *Metrics) RecordInvalidation(table, operation string) {
	if m == nil {
		return
	}
	m.InvalidationsTotal.WithLabelValues(table, operation).Inc()
}

// RecordDbOperation records a database operation and its duration
func (m *Metrics) RecordDbOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DbOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordSchemaLoad records which tier served a schema lookup ("local", "external", "database")
func (m *Metrics) RecordSchemaLoad(tier string) {
	if m == nil {
		return
	}
	m.SchemaLoadsTotal.WithLabelValues(tier).Inc()
}
