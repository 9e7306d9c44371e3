package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RecordsProcessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_records_processed_total", Help: "Valid records seen by the retention filter"})
	RecordsKept      = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_records_kept_total", Help: "Records kept by the retention filter"})
	RecordsDropped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_records_dropped_total", Help: "Records dropped as stale"})
	RecordsRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_records_rejected_total", Help: "Malformed rows rejected during decode or validation"})

	QueriesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_queries_submitted_total", Help: "Query jobs submitted to the execution service"})
	QueriesSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_queries_succeeded_total", Help: "Query jobs that produced a result set"})
	QueriesFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_queries_failed_total", Help: "Query jobs that ended failed"})
	QueriesTimedOut  = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_queries_timed_out_total", Help: "Query jobs cut off by a deadline"})
	QueriesCancelled = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_queries_cancelled_total", Help: "Query jobs cancelled by the caller"})
	QueriesInFlight  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orders_queries_inflight", Help: "Query jobs currently being driven"})

	RunsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_runs_total", Help: "Analytics runs started"})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orders_run_duration_seconds",
		Help:    "Wall-clock duration of analytics runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RecordsProcessed,
			RecordsKept,
			RecordsDropped,
			RecordsRejected,
			QueriesSubmitted,
			QueriesSucceeded,
			QueriesFailed,
			QueriesTimedOut,
			QueriesCancelled,
			QueriesInFlight,
			RunsTotal,
			RunDuration,
		)
	})
	return promhttp.Handler()
}
