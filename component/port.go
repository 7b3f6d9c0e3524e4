package component

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/rtlink/connector"
	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// Direction of data flow through a port
type Direction string

// Direction constants for port data flow
const (
	DirectionSource Direction = "source"
	DirectionSink   Direction = "sink"
)

// ParseDirection accepts the canonical names plus the out/in spellings
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "source", "out", "output":
		return DirectionSource, nil
	case "sink", "in", "input":
		return DirectionSink, nil
	}
	return "", errors.BadParam("Port", "ParseDirection", "unknown direction "+s)
}

// Role maps the direction onto the connector role used on this end
func (d Direction) Role() connector.Role {
	if d == DirectionSink {
		return connector.RoleProvider
	}
	return connector.RoleConsumer
}

// host is the owning component as seen by a port
type host interface {
	Handle() Handle
	Name() string
	AcceptingData() bool
	factory() ConnectorFactory
	log() *slog.Logger
}

// Port is a named, typed endpoint of a component. It owns the connectors
// created through it.
type Port struct {
	Name      string    `json:"name"`
	DataType  string    `json:"data_type"`
	Direction Direction `json:"direction"`

	mu         sync.Mutex
	owner      host
	connectors []*connector.Connector
}

// NewPort builds an unregistered port
func NewPort(name, dataType string, dir Direction) (*Port, error) {
	if !validName.MatchString(name) {
		return nil, errors.BadParam("Port", "NewPort", "invalid port name "+name)
	}
	if dataType == "" {
		return nil, errors.BadParam("Port", "NewPort", "data type is required")
	}
	if dir != DirectionSource && dir != DirectionSink {
		return nil, errors.BadParam("Port", "NewPort", "invalid direction "+string(dir))
	}
	return &Port{Name: name, DataType: dataType, Direction: dir}, nil
}

// Owner returns the handle of the owning component, or 0 when unregistered
func (p *Port) Owner() Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner == nil {
		return 0
	}
	return p.owner.Handle()
}

// Ref returns the connector-level reference to this port
func (p *Port) Ref() connector.PortRef {
	return connector.PortRef{Component: uint64(p.Owner()), Port: p.Name}
}

// AcceptingData reports whether the owner is Alive. Connectors created through
// the port use it as their gate.
func (p *Port) AcceptingData() bool {
	p.mu.Lock()
	o := p.owner
	p.mu.Unlock()
	return o != nil && o.AcceptingData()
}

func (p *Port) bind(o host) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner != nil {
		return errors.BadParam("Port", "bind", "port "+p.Name+" already registered with "+p.owner.Name())
	}
	p.owner = o
	return nil
}

// Connect creates, wires and activates a connector for profile. The owner
// must be Alive.
func (p *Port) Connect(ctx context.Context, profile ConnectorProfile) (*connector.Connector, error) {
	p.mu.Lock()
	o := p.owner
	p.mu.Unlock()

	if o == nil {
		return nil, errors.Precondition("Port", "Connect", "port "+p.Name+" is not registered")
	}
	if !o.AcceptingData() {
		return nil, errors.Precondition("Port", "Connect", "component "+o.Name()+" is not alive")
	}
	f := o.factory()
	if f == nil {
		return nil, errors.Precondition("Port", "Connect", "no connector factory configured")
	}

	c, err := f(ctx, p, profile)
	if err != nil {
		return nil, errors.Wrap(err, "Port", "Connect", "create connector "+profile.Name)
	}

	p.mu.Lock()
	p.connectors = append(p.connectors, c)
	p.mu.Unlock()

	o.log().Info("Port connected", "port", p.Name, "connector", c.ID(), "profile", profile.Name)
	return c, nil
}

// Adopt adds an already activated connector to the port
func (p *Port) Adopt(c *connector.Connector) error {
	if c == nil {
		return errors.BadParam("Port", "Adopt", "connector is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.ContainsFunc(p.connectors, func(x *connector.Connector) bool { return x.ID() == c.ID() }) {
		return errors.BadParam("Port", "Adopt", "connector "+c.ID()+" already attached")
	}
	p.connectors = append(p.connectors, c)
	return nil
}

// Disconnect tears down the connector with id and removes it from the port
func (p *Port) Disconnect(id string) error {
	p.mu.Lock()
	i := slices.IndexFunc(p.connectors, func(c *connector.Connector) bool { return c.ID() == id })
	if i < 0 {
		p.mu.Unlock()
		return errors.BadParam("Port", "Disconnect", "unknown connector "+id)
	}
	c := p.connectors[i]
	p.connectors = slices.Delete(p.connectors, i, i+1)
	p.mu.Unlock()

	return c.Teardown()
}

// Connector returns the connector with id
func (p *Port) Connector(id string) (*connector.Connector, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.connectors {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Connectors returns the connectors in creation order
func (p *Port) Connectors() []*connector.Connector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.connectors)
}

// Push fans payload out to every connector. The result is OK only if every
// connector accepted it; otherwise the first failing status is returned.
func (p *Port) Push(payload transport.Payload) buffer.Status {
	if p.Direction != DirectionSource {
		return buffer.PreconditionNotMet
	}
	cs := p.Connectors()
	if len(cs) == 0 {
		return buffer.PreconditionNotMet
	}
	result := buffer.OK
	for _, c := range cs {
		if st := c.Push(payload); st != buffer.OK && result == buffer.OK {
			result = st
		}
	}
	return result
}

// Pull reads from the first connector, in creation order, that holds data
func (p *Port) Pull() (transport.Payload, buffer.Status) {
	if p.Direction != DirectionSink {
		return nil, buffer.PreconditionNotMet
	}
	cs := p.Connectors()
	if len(cs) == 0 {
		return nil, buffer.PreconditionNotMet
	}
	result := buffer.Empty
	for _, c := range cs {
		data, st := c.Pull()
		if st == buffer.OK {
			return data, st
		}
		if st != buffer.Empty && result == buffer.Empty {
			result = st
		}
	}
	return nil, result
}

// teardown releases every connector and returns the joined errors
func (p *Port) teardown() error {
	p.mu.Lock()
	cs := p.connectors
	p.connectors = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range cs {
		if err := c.Teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
