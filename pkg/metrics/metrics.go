// Package metrics exposes proxy counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name
const Namespace = "envoi"

// Route label values for requests_total
const (
	RouteMatched  = "matched"
	RouteFallback = "fallback"
)

// Collector tracks proxy activity on its own registry.
//
// Metrics:
//   - envoi_requests_total{route}: requests routed, by matched or fallback
//   - envoi_forward_errors_total: upstream requests that failed
//   - envoi_handshake_failures_total: inbound TLS handshakes that failed
//   - envoi_open_connections: established client connections
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	forwardErrors     prometheus.Counter
	handshakeFailures prometheus.Counter
	openConnections   prometheus.Gauge
}

// New creates a collector with a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(registry)
}

// NewWithRegistry creates and registers the proxy metrics with registry.
func NewWithRegistry(registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Total number of requests routed, by route outcome",
			},
			[]string{"route"},
		),
		forwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forward_errors_total",
			Help:      "Total number of requests whose upstream forward failed",
		}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handshake_failures_total",
			Help:      "Total number of failed inbound TLS handshakes",
		}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "open_connections",
			Help:      "Number of established client connections",
		}),
	}

	registry.MustRegister(c.requestsTotal, c.forwardErrors, c.handshakeFailures, c.openConnections)
	return c
}

// Registry returns the registry the metrics are registered with
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RequestRouted counts one routed request
func (c *Collector) RequestRouted(matched bool) {
	if c == nil {
		return
	}
	route := RouteFallback
	if matched {
		route = RouteMatched
	}
	c.requestsTotal.WithLabelValues(route).Inc()
}

// ForwardFailed counts one failed upstream request
func (c *Collector) ForwardFailed() {
	if c == nil {
		return
	}
	c.forwardErrors.Inc()
}

// HandshakeFailed counts one failed TLS handshake
func (c *Collector) HandshakeFailed() {
	if c == nil {
		return
	}
	c.handshakeFailures.Inc()
}

// ConnectionOpened increments the open connection gauge
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.openConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.openConnections.Dec()
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
