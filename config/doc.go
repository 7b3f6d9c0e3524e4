// Package config loads and validates rtlink deployment configuration.
//
// A deployment names the process (platform), the NATS connection, the naming
// directory, the components with their ports, and the connections wiring a
// source port to a sink port over a transport.
//
// Files may be JSON or YAML, chosen by extension. The Loader merges layers in
// order, so an environment file can override a base file, then applies
// RTLINK_* environment variables:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/robot-1.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Validate checks that every connection references a declared source port and a
// declared sink port, and defaults a connection's topic to its name.
//
// SafeConfig wraps a Config for concurrent readers; Get always returns a deep copy.
// Store publishes configs to a NATS KV bucket keyed by platform id.
package config
