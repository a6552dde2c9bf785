// Package observability exposes the Prometheus collectors shared by the API
// server and the worker.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lendflow/lendflow/internal/platform/httpx"
)

// Metrics collects application metrics on a private registry.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	authzDenials      *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendflow_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendflow_authz_denials_total",
		Help: "Capability checks that were denied.",
	}, []string{"action", "subject"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendflow_pending_action_transitions_total",
		Help: "Pending action state transitions by action type and resulting status.",
	}, []string{"action_type", "status"})
	execution := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendflow_pending_action_execution_seconds",
		Help:    "Time spent executing approved pending actions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action_type", "outcome"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendflow_jobs_total",
		Help: "Background job runs by job and status.",
	}, []string{"job", "status"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendflow_job_duration_seconds",
		Help:    "Background job latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	registry.MustRegister(requests, duration, denials, transitions, execution, jobRuns, jobDuration)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		authzDenials:      denials,
		transitions:       transitions,
		executionDuration: execution,
		jobRuns:           jobRuns,
		jobDuration:       jobDuration,
	}
}

// Handler serves the private registry. A nil Metrics answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpx.Fail(w, http.StatusServiceUnavailable, "metrics disabled", nil)
		})
	}
	return m.handler
}

// Middleware counts requests per chi route pattern, so /users/{id} is one
// series rather than one per id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(began).Seconds())
	})
}

// ObserveDenial counts a denied capability check.
func (m *Metrics) ObserveDenial(action, subject string) {
	if m != nil {
		m.authzDenials.WithLabelValues(action, subject).Inc()
	}
}

// ObserveTransition counts a pending action entering status.
func (m *Metrics) ObserveTransition(actionType, status string) {
	if m != nil {
		m.transitions.WithLabelValues(actionType, status).Inc()
	}
}

// ObserveExecution records how long an executor ran and whether it succeeded.
func (m *Metrics) ObserveExecution(actionType string, elapsed time.Duration, err error) {
	if m != nil {
		m.executionDuration.WithLabelValues(actionType, outcome(err)).Observe(elapsed.Seconds())
	}
}

// Tracker times one job run. The zero of *Tracker is safe to End.
type Tracker struct {
	metrics *Metrics
	job     string
	began   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return nil
	}
	return &Tracker{metrics: m, job: job, began: time.Now()}
}

// End records the run and hands err back so handlers can return through it.
func (t *Tracker) End(err error) error {
	if t == nil {
		return err
	}
	t.metrics.jobRuns.WithLabelValues(t.job, outcome(err)).Inc()
	t.metrics.jobDuration.WithLabelValues(t.job).Observe(time.Since(t.began).Seconds())
	return err
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
