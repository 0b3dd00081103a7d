// Package metrics defines the Prometheus collectors of trustline.
//
// Collectors are created per Metrics value and registered on the
// Registerer passed to New, so tests can use a private registry. All
// recording methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	ProtocolSteps          *prometheus.CounterVec
	ChannelMessages        *prometheus.CounterVec
	ChannelDecryptFailures prometheus.Counter
	RatchetTriggers        *prometheus.CounterVec
	RelayRequests          *prometheus.CounterVec
	RelayRequestDuration   *prometheus.HistogramVec
	RelayMailboxDepth      prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProtocolSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocol_steps_total",
				Help: "Protocol messages processed, by protocol and outcome.",
			},
			[]string{"protocol", "outcome"},
		),
		ChannelMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_messages_total",
				Help: "Messages encrypted or decrypted, by direction and channel kind.",
			},
			[]string{"direction", "kind"},
		),
		ChannelDecryptFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "channel_decrypt_failures_total",
				Help: "Inbound envelopes no key could decrypt.",
			},
		),
		RatchetTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_ratchet_triggers_total",
				Help: "Full ratchets started by the ratchet policy, by kind.",
			},
			[]string{"kind"},
		),
		RelayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Relay HTTP requests, by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		RelayRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "Duration of relay HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RelayMailboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_mailbox_depth",
				Help: "Envelopes returned by the last mailbox fetch.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.ProtocolSteps,
			m.ChannelMessages,
			m.ChannelDecryptFailures,
			m.RatchetTriggers,
			m.RelayRequests,
			m.RelayRequestDuration,
			m.RelayMailboxDepth,
		)
	}
	return m
}

// Step records one protocol message outcome.
func (m *Metrics) Step(protocol, outcome string) {
	if m == nil {
		return
	}
	m.ProtocolSteps.WithLabelValues(protocol, outcome).Inc()
}

// ChannelMessage records one encrypted ("out") or decrypted ("in") message.
func (m *Metrics) ChannelMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.ChannelMessages.WithLabelValues(direction, kind).Inc()
}

// DecryptFailure records an envelope no key could open.
func (m *Metrics) DecryptFailure() {
	if m == nil {
		return
	}
	m.ChannelDecryptFailures.Inc()
}

// RatchetTrigger records a policy decision.
func (m *Metrics) RatchetTrigger(kind string) {
	if m == nil {
		return
	}
	m.RatchetTriggers.WithLabelValues(kind).Inc()
}

// RelayRequest records one relay HTTP request.
func (m *Metrics) RelayRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.RelayRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// MailboxDepth records the size of the last fetch.
func (m *Metrics) MailboxDepth(n int) {
	if m == nil {
		return
	}
	m.RelayMailboxDepth.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
