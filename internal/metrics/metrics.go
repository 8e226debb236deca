// Package metrics holds the Prometheus collectors of the onboarding core.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderdesk"

type Metrics struct {
	registry *prometheus.Registry

	resolutions   *prometheus.CounterVec
	resolveTime   prometheus.Histogram
	dispatches    *prometheus.CounterVec
	staleResults  prometheus.Counter
	redirects     *prometheus.CounterVec
	guardOutcomes *prometheus.CounterVec
	controllers   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New builds the collectors on a dedicated registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_resolutions_total",
			Help:      "Organization status resolutions by outcome.",
		}, []string{"outcome"}),
		resolveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "status_resolution_seconds",
			Help:      "Duration of organization status resolutions.",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_refresh_dispatches_total",
			Help:      "Flow refresh dispatches, split into started and joined calls.",
		}, []string{"kind"}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_stale_results_total",
			Help:      "Resolution results discarded because a newer one was applied.",
		}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_redirects_total",
			Help:      "Onboarding redirects issued by step.",
		}, []string{"step"}),
		guardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_outcomes_total",
			Help:      "Route guard decisions by outcome.",
		}, []string{"outcome"}),
		controllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_controllers",
			Help:      "Live per-identity flow controllers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	registry.MustRegister(
		m.resolutions,
		m.resolveTime,
		m.dispatches,
		m.staleResults,
		m.redirects,
		m.guardOutcomes,
		m.controllers,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ObserveResolution(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
	m.resolveTime.Observe(seconds)
}

func (m *Metrics) RefreshDispatched(joined bool) {
	if m == nil {
		return
	}
	kind := "started"
	if joined {
		kind = "joined"
	}
	m.dispatches.WithLabelValues(kind).Inc()
}

func (m *Metrics) StaleResultDiscarded() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}

func (m *Metrics) RedirectIssued(step string) {
	if m == nil {
		return
	}
	m.redirects.WithLabelValues(step).Inc()
}

func (m *Metrics) GuardDecided(outcome string) {
	if m == nil {
		return
	}
	m.guardOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ControllerOpened() {
	if m == nil {
		return
	}
	m.controllers.Inc()
}

func (m *Metrics) ControllerClosed() {
	if m == nil {
		return
	}
	m.controllers.Dec()
}

func (m *Metrics) HTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
}
