package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rtlink/metric"
)

type bufferMetrics struct {
	registry metric.MetricsRegistrar
	service  string
	names    []string // registered by this buffer

	writes      *prometheus.CounterVec
	reads       prometheus.Counter
	overwrites  prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newBufferMetrics registers the buffer collectors under service prefix. The prefix
// is also a const label so several connectors can export buffers side by side.
func newBufferMetrics(registry metric.MetricsRegistrar, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"buffer": prefix}
	m := &bufferMetrics{
		registry: registry,
		service:  prefix,
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Buffer write attempts by resulting status",
		}, []string{"status"}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Successful buffer reads",
		}),
		overwrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "overwrites_total",
			ConstLabels: labels,
			Help:        "Writes that discarded the oldest pending item",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of items in buffer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Buffer occupancy as a fraction of capacity",
		}),
	}

	regs := []struct {
		name string
		fn   func() error
	}{
		{"buffer_writes", func() error { return registry.RegisterCounterVec(prefix, "buffer_writes", m.writes) }},
		{"buffer_reads", func() error { return registry.RegisterCounter(prefix, "buffer_reads", m.reads) }},
		{"buffer_overwrites", func() error { return registry.RegisterCounter(prefix, "buffer_overwrites", m.overwrites) }},
		{"buffer_size", func() error { return registry.RegisterGauge(prefix, "buffer_size", m.size) }},
		{"buffer_utilization", func() error { return registry.RegisterGauge(prefix, "buffer_utilization", m.utilization) }},
	}
	for _, r := range regs {
		if err := r.fn(); err != nil {
			m.unregister()
			return nil, err
		}
		m.names = append(m.names, r.name)
	}
	return m, nil
}

func (m *bufferMetrics) recordWrite(status Status, overwrote bool) {
	m.writes.WithLabelValues(status.String()).Inc()
	if overwrote {
		m.overwrites.Inc()
	}
}

func (m *bufferMetrics) recordRead() {
	m.reads.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}

func (m *bufferMetrics) unregister() {
	for _, name := range m.names {
		m.registry.Unregister(m.service, name)
	}
	m.names = nil
}
