// Package metrics defines the Prometheus collectors Cloudtype exports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes.
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginBanned             = "banned"
)

// Metrics holds every collector. The Observe helpers accept a nil
// receiver so services can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	LoginAttempts     *prometheus.CounterVec
	Registrations     prometheus.Counter
	ModerationActions *prometheus.CounterVec
	PostsCreated      *prometheus.CounterVec
	LikeChanges       *prometheus.CounterVec
	GuardRejections   *prometheus.CounterVec
}

// New creates the collectors on a private registry, along with the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewWithRegisterer(reg, namespace)
	m.registry = reg
	return m
}

// NewWithRegisterer registers the collectors on reg.
func NewWithRegisterer(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Identities created",
			},
		),
		ModerationActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moderation_actions_total",
				Help:      "Moderation actions applied by admins",
			},
			[]string{"action"},
		),
		PostsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "posts_created_total",
				Help:      "Content items created by kind",
			},
			[]string{"kind"},
		),
		LikeChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "like_changes_total",
				Help:      "Like and unlike calls by result",
			},
			[]string{"result"},
		),
		GuardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_rejections_total",
				Help:      "Requests rejected by the authorization guard",
			},
			[]string{"reason"},
		),
	}
}

// Handler serves the registry created by New. Metrics built with
// NewWithRegisterer fall back to the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRegistration() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

func (m *Metrics) ObserveModeration(action string) {
	if m == nil {
		return
	}
	m.ModerationActions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObservePost(kind string) {
	if m == nil {
		return
	}
	m.PostsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveLike(result string) {
	if m == nil {
		return
	}
	m.LikeChanges.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveGuardRejection(reason string) {
	if m == nil {
		return
	}
	m.GuardRejections.WithLabelValues(reason).Inc()
}
