// Package metrics exposes peerlink counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so engines can take one
// unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerlink"

// Metrics holds the counters shared by the exchange, connector and group engines.
type Metrics struct {
	registry *prometheus.Registry

	exchanges      *prometheus.CounterVec
	connectAttempt *prometheus.CounterVec
	usable         *prometheus.CounterVec
	lost           *prometheus.CounterVec
	groupEdges     *prometheus.CounterVec
	links          prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_outcomes_total",
			Help:      "Completed request/response exchanges by outcome.",
		}, []string{"outcome"}),
		connectAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Outbound connection attempts by target and result.",
		}, []string{"target", "result"}),
		usable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usable_address_total",
			Help:      "Usable address notifications by target.",
		}, []string{"target"}),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_lost_total",
			Help:      "Lost address notifications by target.",
		}, []string{"target"}),
		groupEdges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_readiness_total",
			Help:      "Group readiness transitions by edge.",
		}, []string{"edge"}),
		links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_links",
			Help:      "Transport links currently open.",
		}),
	}
	m.registry.MustRegister(m.exchanges, m.connectAttempt, m.usable, m.lost, m.groupEdges, m.links)
	return m
}

// Registry returns the registry holding every peerlink collector.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExchangeOutcome counts one finished exchange.
func (m *Metrics) ExchangeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
}

// ConnectAttempt counts one connection attempt.
func (m *Metrics) ConnectAttempt(target string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "connected"
	}
	m.connectAttempt.WithLabelValues(target, result).Inc()
}

// AddressUsable counts a usable address notification.
func (m *Metrics) AddressUsable(target string) {
	if m == nil {
		return
	}
	m.usable.WithLabelValues(target).Inc()
}

// AddressLost counts a lost address notification.
func (m *Metrics) AddressLost(target string) {
	if m == nil {
		return
	}
	m.lost.WithLabelValues(target).Inc()
}

// GroupReady counts a group becoming ready.
func (m *Metrics) GroupReady() {
	if m == nil {
		return
	}
	m.groupEdges.WithLabelValues("ready").Inc()
}

// GroupNotReady counts a group regressing.
func (m *Metrics) GroupNotReady() {
	if m == nil {
		return
	}
	m.groupEdges.WithLabelValues("not_ready").Inc()
}

// LinkOpened tracks a transport link coming up.
func (m *Metrics) LinkOpened() {
	if m == nil {
		return
	}
	m.links.Inc()
}

// LinkClosed tracks a transport link going away.
func (m *Metrics) LinkClosed() {
	if m == nil {
		return
	}
	m.links.Dec()
}
