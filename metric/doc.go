// Package metric provides the Prometheus registry and HTTP endpoint shared by
// connectors, transports and the daemon.
//
// Core metrics (connector counts, push and receive outcomes, handshake results,
// link counts, component state, NATS health) are registered once by
// NewMetricsRegistry. Buffers, worker pools and transports register their own
// collectors through the MetricsRegistrar interface, keyed "service.metric" so
// a duplicate registration is reported as an invalid-class error instead of a
// prometheus panic:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordHandshake("tcp", "ok", elapsed)
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	server.Handle("/events", hub)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(5 * time.Second)
//
// The Record helpers on *Metrics accept a nil receiver, so code paths that run
// without a registry (unit tests, embedded use) need no guards.
package metric
