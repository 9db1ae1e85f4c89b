// Package metrics provides Prometheus metrics for the relay agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent. Record helpers are
// safe on a nil receiver so loops can run without a registry in tests.
type Metrics struct {
	InboundForwarded  *prometheus.CounterVec
	OutboundDelivered *prometheus.CounterVec
	HeartbeatsTotal   *prometheus.CounterVec
	ReconnectsTotal   prometheus.Counter
	ClaimErrorsTotal  prometheus.Counter
	ConnectionStatus  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		InboundForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_inbound_forwarded_total",
				Help: "Inbound envelopes forwarded to the cloud by channel and status.",
			},
			[]string{"channel", "status"},
		),
		OutboundDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_outbound_delivered_total",
				Help: "Outbound work items delivered to the platform by channel and status.",
			},
			[]string{"channel", "status"},
		),
		HeartbeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_heartbeats_total",
				Help: "Heartbeats sent to the cloud by result.",
			},
			[]string{"status"},
		),
		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_reconnects_total",
				Help: "Supervisor reconnection attempts.",
			},
		),
		ClaimErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_claim_errors_total",
				Help: "Failed outbound claim calls.",
			},
		),
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_connection_status",
				Help: "Plugin connection status (0 disconnected, 1 connecting, 2 connected).",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.InboundForwarded)
	reg.MustRegister(m.OutboundDelivered)
	reg.MustRegister(m.HeartbeatsTotal)
	reg.MustRegister(m.ReconnectsTotal)
	reg.MustRegister(m.ClaimErrorsTotal)
	reg.MustRegister(m.ConnectionStatus)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInbound increments the inbound forward counter.
func (m *Metrics) RecordInbound(channel, status string) {
	if m == nil {
		return
	}
	m.InboundForwarded.WithLabelValues(channel, status).Inc()
}

// RecordOutbound increments the outbound delivery counter.
func (m *Metrics) RecordOutbound(channel, status string) {
	if m == nil {
		return
	}
	m.OutboundDelivered.WithLabelValues(channel, status).Inc()
}

// RecordHeartbeat increments the heartbeat counter.
func (m *Metrics) RecordHeartbeat(status string) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// RecordClaimError increments the claim error counter.
func (m *Metrics) RecordClaimError() {
	if m == nil {
		return
	}
	m.ClaimErrorsTotal.Inc()
}

// SetConnectionStatus publishes the plugin connection status.
func (m *Metrics) SetConnectionStatus(status float64) {
	if m == nil {
		return
	}
	m.ConnectionStatus.Set(status)
}
