// Package transportregistry registers the built-in transports with a
// transport registry. The process context calls Register once at startup.
package transportregistry

import (
	"errors"

	pkgerrors "github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/transport"
	"github.com/c360/rtlink/transport/inproc"
	"github.com/c360/rtlink/transport/nats"
	"github.com/c360/rtlink/transport/tcp"
)

// Register adds every built-in transport to registry:
//   - inproc: same-process ports over bus
//   - tcp: TCPROS style point-to-point sockets
//   - nats: topic subjects with a request/reply bind
//
// The nats factories refuse to build endpoints when no NATS client is
// configured, so registering it unconditionally is harmless.
func Register(registry *transport.Registry, bus *inproc.Bus) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"TransportRegistry", "Register", "registry validation")
	}
	if bus == nil {
		return pkgerrors.WrapFatal(
			errors.New("inproc bus cannot be nil"),
			"TransportRegistry", "Register", "bus validation")
	}

	if err := inproc.Register(registry, bus); err != nil {
		return pkgerrors.WrapInvalid(err, "TransportRegistry", "Register", "inproc transport registration")
	}

	if err := tcp.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "TransportRegistry", "Register", "tcp transport registration")
	}

	if err := nats.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "TransportRegistry", "Register", "nats transport registration")
	}

	return nil
}
