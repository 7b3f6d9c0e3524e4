// Package natsclient wraps the NATS Go client for rtlink's networked pieces: the
// nats transport and the JetStream KV-backed naming directory.
//
// A Client adds a circuit breaker around connection attempts, context-aware
// Connect/Close, health monitoring and optional Prometheus status metrics on top of
// nats.Conn. Connection state moves through Disconnected, Connecting, Connected and
// Reconnecting; after the configured number of consecutive failures the circuit
// opens and Connect fails fast with ErrCircuitOpen until the backoff elapses.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
//	    natsclient.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe(ctx, "rtlink.data.scan", func(ctx context.Context, data []byte) {
//	    // ...
//	})
//	defer sub.Unsubscribe()
//
//	reply, err := client.Request(ctx, "rtlink.bind.scan", header)
//
// # Key-Value
//
// KVStore wraps a jetstream.KeyValue bucket with revision-aware Create/Update,
// UpdateWithRetry for compare-and-swap loops, and JSON helpers:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "rtlink_names"})
//	kv := client.NewKVStore(bucket)
//	_, err = kv.PutJSON(ctx, "scan", record)
//
// Missing keys are reported as ErrKVKeyNotFound, which also matches
// errors.ErrKeyNotFound from the rtlink errors package.
//
// # Testing
//
// NewTestClient and NewSharedTestClient start a nats server with testcontainers.
// Tests that use them are skipped unless INTEGRATION_TESTS is set.
package natsclient
