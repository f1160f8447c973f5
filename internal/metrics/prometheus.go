package metrics

import (
	"time"

	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Engine operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Metadata cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Action log metrics
	ActionLogEntries *prometheus.CounterVec
	ActionMerges     *prometheus.CounterVec

	// Sharding metrics
	ShardsCreated         *prometheus.CounterVec
	SplitMigrationRecords prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"operation", "table_kind"},
		),

		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_operation_errors_total",
				Help: "Total number of failed engine operations",
			},
			[]string{"operation", "code"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recordstore_operation_duration_seconds",
				Help:    "Duration of engine operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_metadata_cache_hits_total",
				Help: "Total number of metadata cache hits",
			},
			[]string{"kind"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_metadata_cache_misses_total",
				Help: "Total number of metadata cache misses",
			},
			[]string{"kind"},
		),

		ActionLogEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_action_log_entries_total",
				Help: "Total number of action log entries written",
			},
			[]string{"action", "source"},
		),

		ActionMerges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_action_merges_total",
				Help: "Total number of record action merges",
			},
			[]string{"status"},
		),

		ShardsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordstore_shards_created_total",
				Help: "Total number of physical shards created",
			},
			[]string{"kind"},
		),

		SplitMigrationRecords: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "recordstore_split_migration_records_total",
				Help: "Total number of records moved into user shards",
			},
		),
	}
}

// RecordOperation records one engine operation
func (m *Metrics) RecordOperation(operation, tableKind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, tableKind).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(operation, dberrors.GetCode(err).String()).Inc()
	}
}

// RecordCacheLookup records a metadata cache hit or miss
func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(kind).Inc()
	} else {
		m.CacheMisses.WithLabelValues(kind).Inc()
	}
}

// RecordActionLogEntries records appended action log entries
func (m *Metrics) RecordActionLogEntries(action, source string, n int) {
	if m == nil {
		return
	}
	m.ActionLogEntries.WithLabelValues(action, source).Add(float64(n))
}

// RecordMerge records the outcome of a record action merge
func (m *Metrics) RecordMerge(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ActionMerges.WithLabelValues(status).Inc()
}

// RecordShardCreated records a created data or action log shard
func (m *Metrics) RecordShardCreated(kind string) {
	if m == nil {
		return
	}
	m.ShardsCreated.WithLabelValues(kind).Inc()
}

// RecordSplitMigration records records moved by a split-by-user migration
func (m *Metrics) RecordSplitMigration(n int) {
	if m == nil {
		return
	}
	m.SplitMigrationRecords.Add(float64(n))
}
