// Package metrics exposes Prometheus counters for the account use-cases.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the service collectors and the registry they live in. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	AuthTotal     *prometheus.CounterVec
	NotifyTotal   *prometheus.CounterVec
	PendingNotify prometheus.Gauge
}

// New creates a registry with the Go and process collectors plus the
// account counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_auth_operations_total",
				Help: "Total number of account operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		NotifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_reset_notifications_total",
				Help: "Total number of password reset notifications by outcome",
			},
			[]string{"outcome"},
		),
		PendingNotify: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyward_reset_notifications_pending",
			Help: "Password reset notifications currently being dispatched",
		}),
	}
	registry.MustRegister(m.AuthTotal, m.NotifyTotal, m.PendingNotify)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveAuth counts one account operation.
func (m *Metrics) ObserveAuth(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthTotal.WithLabelValues(operation, outcome).Inc()
}

// NotifyStarted marks a dispatch as in flight.
func (m *Metrics) NotifyStarted() {
	if m == nil {
		return
	}
	m.PendingNotify.Inc()
}

// NotifyFinished records the result of a dispatch started with NotifyStarted.
func (m *Metrics) NotifyFinished(err error) {
	if m == nil {
		return
	}
	m.PendingNotify.Dec()
	if err != nil {
		m.NotifyTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	m.NotifyTotal.WithLabelValues(OutcomeSuccess).Inc()
}
