// Package metrics exposes Prometheus counters and gauges for this
// module's own domain (tasks, event log appends, replay activity),
// grounded on the shape of the retrieved oubliette repo's
// internal/metrics package: promauto-registered vectors plus a small
// HTTP middleware and named recording helpers.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests served by the surface.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deerflow_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deerflow_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TasksByStatus tracks the current registry population per status.
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deerflow_tasks_by_status",
			Help: "Number of tasks currently in each status",
		},
		[]string{"status"},
	)

	// TasksCreatedTotal counts every task ever admitted through
	// create_task.
	TasksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deerflow_tasks_created_total",
			Help: "Total number of tasks created",
		},
	)

	// AdmissionQueueDepth tracks tasks waiting on the concurrency
	// semaphore (pending, not yet running).
	AdmissionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deerflow_admission_queue_depth",
			Help: "Number of tasks queued waiting for an admission slot",
		},
	)

	// EventsAppendedTotal counts Event Log appends by kind.
	EventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deerflow_events_appended_total",
			Help: "Total number of events appended to the event log",
		},
		[]string{"kind"},
	)

	// ReplayConnectionsActive tracks currently open SSE replay
	// connections.
	ReplayConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deerflow_replay_connections_active",
			Help: "Number of currently open replay SSE connections",
		},
	)

	// FallbackDegraded is 1 when a backing store has tripped into its
	// in-memory fallback, 0 otherwise.
	FallbackDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deerflow_backing_store_degraded",
			Help: "1 if the named backing store has fallen back to its in-memory substitute",
		},
		[]string{"store"},
	)
)

// Middleware records request counts and latency for every request
// passing through the gin engine.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler returns the gin handler serving the Prometheus exposition
// format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

// RecordEventAppended records one Event Log append of the given kind.
func RecordEventAppended(kind string) {
	EventsAppendedTotal.WithLabelValues(kind).Inc()
}

// SetFallbackDegraded reflects a backing store's degraded flag.
func SetFallbackDegraded(store string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	FallbackDegraded.WithLabelValues(store).Set(v)
}

// AllTaskStatuses lists every taskregistry.Status label TasksByStatus
// reports. Kept as strings here (rather than importing taskregistry)
// to keep this package a leaf.
var AllTaskStatuses = []string{"pending", "running", "completed", "failed", "cancelled"}

// SetTasksByStatus overwrites the TasksByStatus gauge for every known
// status from counts, zeroing any status missing from it — a snapshot
// set rather than a per-transition Inc/Dec, so a status that drains to
// zero is reported as zero instead of holding its last nonzero value.
func SetTasksByStatus(counts map[string]int) {
	for _, s := range AllTaskStatuses {
		TasksByStatus.WithLabelValues(s).Set(float64(counts[s]))
	}
}
