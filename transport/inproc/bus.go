// Package inproc connects ports living in the same process. Payloads are copied
// straight from the sending connector into the receiving connector's buffer,
// so a full receiver is reported back to the sender synchronously.
package inproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/transport"
)

// Name is the registry name of this transport
const Name = "inproc"

// Protocol is the handshake protocol token
const Protocol = "INPROC"

// endpoint is one announced provider
type endpoint struct {
	topic    string
	header   transport.Header
	provider *Provider
	closed   atomic.Bool
}

// Bus maps endpoint names to the providers that announced them. A manager owns
// one bus per process.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	directory naming.Directory
}

// NewBus creates an empty bus. When dir is non-nil announcements are mirrored
// into it so operators can list in-process endpoints.
func NewBus(dir naming.Directory) *Bus {
	return &Bus{endpoints: make(map[string]*endpoint), directory: dir}
}

func (b *Bus) announce(ctx context.Context, ep *endpoint) error {
	b.mu.Lock()
	if existing, ok := b.endpoints[ep.topic]; ok && !existing.closed.Load() {
		b.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("%w: endpoint %s", errors.ErrLinkExists, ep.topic), "Bus", "announce", "register endpoint")
	}
	b.endpoints[ep.topic] = ep
	b.mu.Unlock()

	if b.directory != nil {
		rec := naming.Record{
			Name:      ep.topic,
			Kind:      naming.KindEndpoint,
			Transport: Name,
			Address:   "inproc://" + ep.topic,
			DataType:  ep.header.DataType,
			Checksum:  ep.header.Checksum,
			Protocol:  Protocol,
			Owner:     ep.header.CallerID,
		}
		if err := b.directory.Register(ctx, rec); err != nil {
			b.withdraw(context.Background(), ep)
			return errors.Wrap(err, "Bus", "announce", "register record")
		}
	}
	return nil
}

func (b *Bus) withdraw(ctx context.Context, ep *endpoint) {
	ep.closed.Store(true)
	b.mu.Lock()
	owned := b.endpoints[ep.topic] == ep
	if owned {
		delete(b.endpoints, ep.topic)
	}
	b.mu.Unlock()

	if owned && b.directory != nil {
		_ = b.directory.Unregister(ctx, naming.KindEndpoint, ep.topic)
	}
}

func (b *Bus) lookup(topic string) (*endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[topic]
	if !ok || ep.closed.Load() {
		return nil, false
	}
	return ep, true
}

// Endpoints returns the announced endpoint names
func (b *Bus) Endpoints() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.endpoints))
	for name := range b.endpoints {
		out = append(out, name)
	}
	return out
}

// Register adds the inproc factories for bus to reg
func Register(reg *transport.Registry, bus *Bus) error {
	return reg.Register(Name,
		func(deps transport.Dependencies) (transport.Provider, error) { return NewProvider(bus, deps), nil },
		func(deps transport.Dependencies) (transport.Consumer, error) { return NewConsumer(bus, deps), nil },
	)
}
