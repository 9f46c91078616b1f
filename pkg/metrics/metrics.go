package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Document metrics
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pocket_documents_total",
			Help: "Live documents per collection",
		},
		[]string{"collection"},
	)

	TombstonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_tombstones_total",
			Help: "Soft-deleted documents awaiting purge",
		},
	)

	ChangeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocket_change_events_total",
			Help: "Change events published by operation",
		},
		[]string{"collection", "operation"},
	)

	// View metrics
	ViewsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_views_total",
			Help: "Registered materialized views",
		},
	)

	ViewUpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pocket_view_update_duration_seconds",
			Help:    "Delta application duration per view",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view"},
	)

	ViewResultSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pocket_view_result_size",
			Help: "Current result count per view",
		},
		[]string{"view"},
	)

	// Branch metrics
	BranchesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_branches_total",
			Help: "Live branches",
		},
	)

	SnapshotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_snapshots_total",
			Help: "Retained snapshots",
		},
	)

	MergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocket_merges_total",
			Help: "Branch merges by outcome",
		},
		[]string{"outcome"},
	)

	// Vector metrics
	VectorEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pocket_vector_entries_total",
			Help: "Indexed vectors per store",
		},
		[]string{"index"},
	)

	EmbeddingCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_embedding_cache_size",
			Help: "Cached text embeddings",
		},
	)

	// Time-series metrics
	TimeseriesPointsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_timeseries_points_total",
			Help: "Points held across partitions",
		},
	)

	TimeseriesCompressionRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_timeseries_compression_ratio",
			Help: "Compressed/raw size ratio of the columnar store",
		},
	)
)

// Register registers all metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		DocumentsTotal,
		TombstonesTotal,
		ChangeEventsTotal,
		ViewsTotal,
		ViewUpdateDuration,
		ViewResultSize,
		BranchesTotal,
		SnapshotsTotal,
		MergesTotal,
		VectorEntriesTotal,
		EmbeddingCacheSize,
		TimeseriesPointsTotal,
		TimeseriesCompressionRatio,
	)
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures operation durations.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}
