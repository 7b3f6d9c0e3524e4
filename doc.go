// Package rtlink is a transport-agnostic data-port framework for robotics
// components.
//
// Components expose named, typed ports. A port is wired to a peer by a
// connector, which owns a bounded buffer, a listener registry and one transport
// endpoint chosen by name at configuration time. Routing is point-to-point:
// each connector resolves its peer once, at connection time, through a handshake
// that compares data types before any payload moves.
//
// # Layers
//
//	component   lifecycle (created -> alive -> finalized) and port admin
//	connector   configure, attach, activate, push/pull, teardown
//	pkg/buffer  ring buffer with overflow policies and write timeouts
//	listener    ordered notifications (BUFFER_FULL, RECEIVED, SEND_ERROR, ...)
//	transport   provider/consumer contract, links, header handshake, framing
//	naming      endpoint directory: memory, static list or NATS KV
//	manager     the process context that owns every registry
//
// # Transports
//
// Three transports are built in and registered by transportregistry:
//
//   - inproc: ports in one process; payloads are copied into the receiving buffer
//     and a full receiver is reported back to the sender synchronously.
//   - tcp: a publisher listens and announces its address; subscribers dial,
//     exchange length-prefixed headers and then read length-prefixed frames.
//   - nats: topics map to subjects; subscribers bind through request/reply so the
//     publisher validates them before data flows.
//
// # Quick Start
//
//	m := manager.New(manager.Options{PlatformID: "robot-1"})
//	if err := m.Init(ctx); err != nil {
//		return err
//	}
//	defer m.Shutdown(context.Background())
//
//	camera, _ := m.CreateComponent("camera", component.Hooks{})
//	out, _ := camera.CreatePort("image", "sensor_msgs/Image", component.DirectionSource)
//	_ = camera.Initialize(ctx)
//
//	viewer, _ := m.CreateComponent("viewer", component.Hooks{})
//	in, _ := viewer.CreatePort("image", "sensor_msgs/Image", component.DirectionSink)
//	_ = viewer.Initialize(ctx)
//
//	_, err := m.Connect(ctx, manager.ConnectionSpec{
//		Name:      "camera_image",
//		Transport: "tcp",
//		Source:    "camera.image",
//		Sink:      "viewer.image",
//	})
//
//	out.Push(transport.Payload(frame))
//	payload, status := in.Pull()
//
// The rtlinkd daemon in cmd/rtlinkd builds the same wiring from a YAML or JSON
// deployment file and serves /metrics, /healthz and a websocket event stream.
package rtlink
