package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every rtlink collector
const Namespace = "rtlink"

// Metrics contains the process-wide connector metrics
type Metrics struct {
	ConnectorsActive  *prometheus.GaugeVec
	PayloadsPushed    *prometheus.CounterVec
	PayloadsReceived  *prometheus.CounterVec
	BytesTransferred  *prometheus.CounterVec
	Handshakes        *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	LinksActive       *prometheus.GaugeVec
	ComponentState    *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	Notifications     *prometheus.CounterVec

	// Broker connection
	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metric set
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectorsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "connector",
				Name:      "active",
				Help:      "Number of live connectors",
			},
			[]string{"transport", "role"},
		),

		PayloadsPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "connector",
				Name:      "pushed_total",
				Help:      "Payloads pushed into connector buffers, by resulting status",
			},
			[]string{"transport", "status"},
		),

		PayloadsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "connector",
				Name:      "received_total",
				Help:      "Payloads delivered by a transport into a provider connector",
			},
			[]string{"transport", "status"},
		),

		BytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "bytes_total",
				Help:      "Payload bytes moved over a transport",
			},
			[]string{"transport", "direction"},
		),

		Handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "handshakes_total",
				Help:      "Handshake attempts by outcome",
			},
			[]string{"transport", "outcome"},
		),

		HandshakeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "handshake_duration_seconds",
				Help:      "Time from dial or accept to a negotiated link",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"transport"},
		),

		LinksActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "links_active",
				Help:      "Established links per transport",
			},
			[]string{"transport"},
		),

		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "state",
				Help:      "Component lifecycle state (0=created, 1=alive, 2=finalized)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"source", "class"},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "listener",
				Name:      "notifications_total",
				Help:      "Listener notifications by kind",
			},
			[]string{"kind"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectorsActive,
		m.PayloadsPushed,
		m.PayloadsReceived,
		m.BytesTransferred,
		m.Handshakes,
		m.HandshakeDuration,
		m.LinksActive,
		m.ComponentState,
		m.ErrorsTotal,
		m.Notifications,
		m.NATSConnected,
		m.NATSRTT,
		m.NATSReconnects,
	}
}

// The Record helpers are nil-safe so packages can hold an optional *Metrics.

// RecordConnectorUp increments the live connector gauge
func (m *Metrics) RecordConnectorUp(transport, role string) {
	if m == nil {
		return
	}
	m.ConnectorsActive.WithLabelValues(transport, role).Inc()
}

// RecordConnectorDown decrements the live connector gauge
func (m *Metrics) RecordConnectorDown(transport, role string) {
	if m == nil {
		return
	}
	m.ConnectorsActive.WithLabelValues(transport, role).Dec()
}

// RecordPush counts one push by its buffer status
func (m *Metrics) RecordPush(transport, status string) {
	if m == nil {
		return
	}
	m.PayloadsPushed.WithLabelValues(transport, status).Inc()
}

// RecordReceive counts one inbound delivery by its buffer status
func (m *Metrics) RecordReceive(transport, status string) {
	if m == nil {
		return
	}
	m.PayloadsReceived.WithLabelValues(transport, status).Inc()
}

// RecordBytes adds payload bytes for direction "in" or "out"
func (m *Metrics) RecordBytes(transport, direction string, n int) {
	if m == nil {
		return
	}
	m.BytesTransferred.WithLabelValues(transport, direction).Add(float64(n))
}

// RecordHandshake counts a handshake outcome ("ok", "rejected", "error") and its duration
func (m *Metrics) RecordHandshake(transport, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(transport, outcome).Inc()
	if outcome == "ok" {
		m.HandshakeDuration.WithLabelValues(transport).Observe(d.Seconds())
	}
}

// RecordLinks sets the established link count for a transport
func (m *Metrics) RecordLinks(transport string, delta int) {
	if m == nil {
		return
	}
	m.LinksActive.WithLabelValues(transport).Add(float64(delta))
}

// RecordComponentState updates a component's lifecycle gauge
func (m *Metrics) RecordComponentState(component string, state int) {
	if m == nil {
		return
	}
	m.ComponentState.WithLabelValues(component).Set(float64(state))
}

// RecordError increments the error counter
func (m *Metrics) RecordError(source, class string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, class).Inc()
}

// RecordNotification counts one listener notification
func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (m *Metrics) RecordNATSRTT(rtt time.Duration) {
	if m == nil {
		return
	}
	m.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}
