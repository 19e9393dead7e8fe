// Package observability exposes Prometheus metrics for the HTTP surface and the
// stipend workflow.
package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctc-stipend/stipend/internal/workflow"
)

// Metrics collects the application's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
}

// NewMetrics builds a private registry with the HTTP and workflow collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stipend_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stipend_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stipend_transitions_total",
		Help: "Committed student transitions by edge, role and override.",
	}, []string{"from", "to", "role", "override"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stipend_transition_rejections_total",
		Help: "Rejected student transitions by reason.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, transitions, rejections)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transitions:     transitions,
		rejections:      rejections,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// AfterTransition counts a committed transition.
func (m *Metrics) AfterTransition(_ context.Context, change workflow.Change) {
	if m == nil {
		return
	}
	evt := change.Event
	m.transitions.WithLabelValues(string(evt.From), string(evt.To), string(evt.Role), strconv.FormatBool(evt.Override)).Inc()
}

// TransitionRejected counts a rejected transition.
func (m *Metrics) TransitionRejected(_ context.Context, err *workflow.TransitionError) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(RejectionReason(err)).Inc()
}

// RejectionReason returns the metric label for a transition failure.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, workflow.ErrUnauthorizedRole):
		return "unauthorized_role"
	case errors.Is(err, workflow.ErrAwardIntegrityViolation):
		return "award_integrity"
	case errors.Is(err, workflow.ErrPaymentHold):
		return "payment_hold"
	case errors.Is(err, workflow.ErrBudgetOverCommitment):
		return "budget_over_commitment"
	case errors.Is(err, workflow.ErrConcurrentModification):
		return "concurrent_modification"
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
