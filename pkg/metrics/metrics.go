package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in one
// process (tests build a gateway per case).
type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Checkouts *prometheus.CounterVec
	Sessions  prometheus.Gauge
}

func New(service string) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "checkout_attempts_total",
		Help:      "Checkout attempts by final state.",
	}, []string{"outcome"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "active_sessions",
		Help:      "Sessions currently holding a cart store.",
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(requests, latency, checkouts, sessions)

	return &Metrics{
		registry:  reg,
		Requests:  requests,
		LatencyMS: latency,
		Checkouts: checkouts,
		Sessions:  sessions,
	}
}

// ObserveCheckout counts a finished checkout attempt. Safe on a nil receiver.
func (m *Metrics) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
