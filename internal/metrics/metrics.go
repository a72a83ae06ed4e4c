package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the api and the worker. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	jobsSubmitted     *prometheus.CounterVec
	admissionRejected *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	refunds           *prometheus.CounterVec
	duplicates        prometheus.Counter
	activeExecutions  prometheus.Gauge
	executionDuration *prometheus.HistogramVec
	rateLimited       prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gengenie_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gengenie_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gengenie_jobs_submitted_total",
			Help: "Jobs admitted after a successful debit.",
		}, []string{"kind"}),
		admissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gengenie_admission_rejected_total",
			Help: "Submissions rejected before a job was created.",
		}, []string{"kind", "reason"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gengenie_jobs_completed_total",
			Help: "Jobs that reached a terminal state.",
		}, []string{"kind", "status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gengenie_credit_refunds_total",
			Help: "Credits refunded for failed jobs.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gengenie_duplicate_completions_total",
			Help: "Completion events ignored because the job was already terminal.",
		}),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gengenie_worker_active_executions",
			Help: "Synthesis calls currently in flight.",
		}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gengenie_worker_execution_duration_seconds",
			Help:    "Duration of synthesis calls.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"kind", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gengenie_api_rate_limit_rejections_total",
			Help: "Submissions rejected by rate limiting.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.jobsSubmitted,
		m.admissionRejected,
		m.jobsCompleted,
		m.refunds,
		m.duplicates,
		m.activeExecutions,
		m.executionDuration,
		m.rateLimited,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) AdmissionRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.admissionRejected.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) JobCompleted(kind, status string, refunded bool) {
	if m == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(kind, status).Inc()
	if refunded {
		m.refunds.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DuplicateCompletion() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// ExecutionStarted marks a synthesis call in flight and returns the func that
// records its outcome.
func (m *Metrics) ExecutionStarted(kind string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeExecutions.Inc()
	return func(status string) {
		m.activeExecutions.Dec()
		m.executionDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
	}
}
