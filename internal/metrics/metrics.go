package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"classroll/internal/attendance"
)

// Recorder exports attendance and HTTP counters to Prometheus.
type Recorder struct {
	recordsWritten  *prometheus.CounterVec
	entriesSkipped  *prometheus.CounterVec
	balanceChanges  *prometheus.CounterVec
	conflictRetries prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimited     prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroll_attendance_records_written_total",
			Help: "Attendance records written, by status.",
		}, []string{"status"}),
		entriesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroll_attendance_entries_skipped_total",
			Help: "Roster entries that produced no record, by failure kind.",
		}, []string{"kind"}),
		balanceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroll_balance_hours_total",
			Help: "Lesson hours moved on student balances, by direction.",
		}, []string{"direction"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classroll_attendance_conflict_retries_total",
			Help: "Per-student transactions retried after a conflict.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroll_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classroll_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classroll_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(r.recordsWritten, r.entriesSkipped, r.balanceChanges,
		r.conflictRetries, r.httpRequests, r.httpDuration, r.rateLimited)
	return r
}

var _ attendance.Metrics = (*Recorder)(nil)

func (r *Recorder) RecordWritten(status attendance.Status) {
	r.recordsWritten.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) EntrySkipped(kind attendance.Kind) {
	r.entriesSkipped.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) BalanceAdjusted(delta int) {
	switch {
	case delta < 0:
		r.balanceChanges.WithLabelValues("debit").Add(float64(-delta))
	case delta > 0:
		r.balanceChanges.WithLabelValues("credit").Add(float64(delta))
	}
}

func (r *Recorder) ConflictRetried() { r.conflictRetries.Inc() }

// RateLimited counts one rejected request.
func (r *Recorder) RateLimited() { r.rateLimited.Inc() }

// GinMiddleware observes every request under its route template.
func (r *Recorder) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		r.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
