package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry              *prometheus.Registry
	PipelineRunning       prometheus.Gauge
	RunDuration           prometheus.Histogram
	TableLoadDuration     *prometheus.HistogramVec
	TableLoadSuccessTotal *prometheus.CounterVec
	RowsLoadedTotal       *prometheus.CounterVec
	BatchesWrittenTotal   *prometheus.CounterVec
	BatchWriteDuration    *prometheus.HistogramVec
	SchemaRecreatesTotal  *prometheus.CounterVec
	LoadErrorsTotal       *prometheus.CounterVec
	WatermarkResetsTotal  *prometheus.CounterVec
}

// NewStore creates and registers the collectors on a non-global registry.
func NewStore() *Store {
	registry := prometheus.NewRegistry()

	return &Store{
		Registry: registry,
		PipelineRunning: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "dentasync_up",
			Help: "Indicates if a replication run is currently in progress (1 = running).",
		}),
		RunDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "dentasync_run_duration_seconds",
			Help:    "Duration of the entire replication run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}),
		TableLoadDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dentasync_table_load_duration_seconds",
			Help:    "Duration histogram for loading individual tables.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"table"}),
		TableLoadSuccessTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dentasync_table_load_success_total",
			Help: "Total number of successful table loads.",
		}, []string{"table"}),
		RowsLoadedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dentasync_rows_loaded_total",
			Help: "Total number of rows written to the target, labeled by table.",
		}, []string{"table"}),
		BatchesWrittenTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dentasync_batches_written_total",
			Help: "Total number of write batches applied, labeled by table.",
		}, []string{"table"}),
		BatchWriteDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dentasync_batch_write_duration_seconds",
			Help:    "Duration histogram for writing individual batches (insert/upsert).",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"table", "status"}), // status: success, success_retry, failure_*
		SchemaRecreatesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dentasync_schema_recreates_total",
			Help: "Total number of destructive target-table recreations triggered by schema drift.",
		}, []string{"table"}),
		LoadErrorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dentasync_load_errors_total",
			Help: "Total number of load errors, labeled by kind and table.",
		}, []string{"kind", "table"}), // kinds: config, watermark_store, source_schema, write, timeout, connection, connection_failed, connection_cancelled
		WatermarkResetsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dentasync_watermark_resets_total",
			Help: "Total number of watermark resets forcing a full reload.",
		}, []string{"table"}),
	}
}
