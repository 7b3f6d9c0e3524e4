// Package connector binds one local port to one transport endpoint. A Connector
// owns the buffer and listener registry of its binding, maps every buffer status
// onto listener notifications, and drives the transport adapter for its role.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/listener"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// Role is the side of the binding a connector serves
type Role int

const (
	// RoleLocal has no transport; push and pull act on the buffer directly
	RoleLocal Role = iota
	// RoleProvider receives from the network into the buffer, drained by Pull
	RoleProvider
	// RoleConsumer is filled by Push and drained onto the network by the publisher
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleLocal:
		return "local"
	case RoleProvider:
		return "provider"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// State of a connector
type State int

const (
	// StateCreated is a new connector that has not been activated yet.
	// The buffer and listeners may still be swapped.
	StateCreated State = iota
	// StateActive has a live transport endpoint; data flows.
	StateActive
	// StateInactive was active and is now disconnected. It may be activated again.
	StateInactive
	// StateTornDown is terminal. The connector cannot be configured or activated again.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Gate reports whether the owning component currently accepts data
type Gate interface {
	AcceptingData() bool
}

// GateFunc adapts a function to Gate
type GateFunc func() bool

// AcceptingData calls f
func (f GateFunc) AcceptingData() bool { return f() }

// PortRef names the local port by owner handle and port name
type PortRef struct {
	Component uint64
	Port      string
}

// Config is what a connector is built from
type Config struct {
	// ID defaults to a random UUID
	ID       string
	Port     PortRef
	DataType string
	Role     Role
	// Registry resolves the transport at Activate; required unless Role is RoleLocal
	Registry *transport.Registry
	Deps     transport.Dependencies
	Gate     Gate
	// CallerID identifies this end in handshakes; defaults to "<port>.<id>"
	CallerID string
}

type origin int

const (
	originLocal origin = iota
	originInbound
)

// Connector is one configured data-flow binding
type Connector struct {
	id       string
	ref      PortRef
	dataType string
	role     Role
	callerID string
	registry *transport.Registry
	deps     transport.Dependencies
	gate     Gate
	logger   *slog.Logger
	metrics  *metric.Metrics

	// opMu serializes Configure, Activate, Deactivate and Teardown
	opMu sync.Mutex

	// mu guards the fields the data path reads
	mu        sync.RWMutex
	raw       map[string]string
	opts      Options
	buf       buffer.Buffer[transport.Payload]
	listeners *listener.Registry
	state     State
	provider  transport.Provider
	consumer  transport.Consumer
	pub       *publisher

	errMu   sync.Mutex
	lastErr error

	tearingDown atomic.Bool
	teardown    sync.Once
	teardownErr error
}

// New creates a connector in the Created state
func New(cfg Config) (*Connector, error) {
	if cfg.Port.Port == "" {
		return nil, errors.BadParam("Connector", "New", "port name is required")
	}
	if cfg.Role != RoleLocal && cfg.Registry == nil {
		return nil, errors.BadParam("Connector", "New", "transport registry is required for "+cfg.Role.String())
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	callerID := cfg.CallerID
	if callerID == "" {
		callerID = fmt.Sprintf("%s.%s", cfg.Port.Port, id)
	}

	opts, _ := decodeOptions(nil)
	return &Connector{
		id:       id,
		ref:      cfg.Port,
		dataType: cfg.DataType,
		role:     cfg.Role,
		callerID: callerID,
		registry: cfg.Registry,
		deps:     cfg.Deps,
		gate:     cfg.Gate,
		logger:   cfg.Deps.LoggerOr().With("connector", id, "port", cfg.Port.Port, "role", cfg.Role.String()),
		metrics:  cfg.Deps.Metrics,
		raw:      map[string]string{},
		opts:     opts,
		state:    StateCreated,
	}, nil
}

// ID returns the connector id
func (c *Connector) ID() string { return c.id }

// Port returns the local port reference
func (c *Connector) Port() PortRef { return c.ref }

// Role returns the connector role
func (c *Connector) Role() Role { return c.role }

// State returns the current state
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Options returns the decoded options
func (c *Connector) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Properties returns a copy of the merged configuration map
func (c *Connector) Properties() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return mergeRaw(c.raw, nil)
}

// Buffer returns the attached buffer, nil before AttachBuffer or after Teardown
func (c *Connector) Buffer() buffer.Buffer[transport.Payload] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf
}

// Listeners returns the attached listener registry
func (c *Connector) Listeners() *listener.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listeners
}

// LastError returns the most recent link or handshake error
func (c *Connector) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Connector) setLastError(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// Links returns the endpoint's link stats
func (c *Connector) Links() []transport.LinkStats {
	c.mu.RLock()
	p, cons := c.provider, c.consumer
	c.mu.RUnlock()
	switch {
	case p != nil:
		return p.Links()
	case cons != nil:
		return cons.Links()
	default:
		return nil
	}
}

func (c *Connector) transportLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.opts.Transport == "" {
		return "local"
	}
	return c.opts.Transport
}

// Configure merges options into the connector configuration. Later calls
// override earlier keys. An invalid map leaves the configuration unchanged.
// Options that shape the buffer or the endpoint take effect at the next
// AttachBuffer or Activate.
func (c *Connector) Configure(options map[string]string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == StateTornDown {
		return errors.Precondition("Connector", "Configure", "connector torn down")
	}

	canon, err := canonicalize(options)
	if err != nil {
		return err
	}

	c.mu.RLock()
	merged := mergeRaw(c.raw, canon)
	c.mu.RUnlock()

	opts, err := decodeOptions(merged)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.raw = merged
	c.opts = opts
	c.mu.Unlock()
	return nil
}

// NewBuffer builds a buffer from the current options
func (c *Connector) NewBuffer(extra ...buffer.Option[transport.Payload]) (buffer.Buffer[transport.Payload], error) {
	opts := c.Options()
	bo := []buffer.Option[transport.Payload]{
		buffer.WithOverflowPolicy[transport.Payload](opts.Policy()),
		buffer.WithWriteTimeout[transport.Payload](opts.WriteTimeout),
	}
	return buffer.NewCircularBuffer(opts.Capacity, append(bo, extra...)...)
}

// AttachBuffer wires in the buffer. Not allowed while active.
func (c *Connector) AttachBuffer(b buffer.Buffer[transport.Payload]) error {
	if b == nil {
		return errors.BadParam("Connector", "AttachBuffer", "buffer is nil")
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive || c.state == StateTornDown {
		return errors.Precondition("Connector", "AttachBuffer", "connector is "+c.state.String())
	}
	c.buf = b
	return nil
}

// AttachListeners wires in the listener registry. Not allowed while active.
func (c *Connector) AttachListeners(r *listener.Registry) error {
	if r == nil {
		return errors.BadParam("Connector", "AttachListeners", "registry is nil")
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive || c.state == StateTornDown {
		return errors.Precondition("Connector", "AttachListeners", "connector is "+c.state.String())
	}
	c.listeners = r
	return nil
}

func (c *Connector) transportOptions() transport.Options {
	dataType := c.opts.DataType
	if dataType == "" {
		dataType = c.dataType
	}
	return transport.Options{
		ConnectorID: c.id,
		Port:        c.ref.Port,
		Topic:       c.opts.Topic,
		DataType:    dataType,
		Marshaling:  c.opts.Marshaling,
		CallerID:    c.callerID,
		Props:       mergeRaw(c.opts.Props, nil),
	}
}

// Activate creates the transport endpoint for the configured role and connects
// it. A buffer and a listener registry must be attached and the owner must be
// accepting data. Handshake errors are returned as-is; nothing is retried.
func (c *Connector) Activate(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	state, buf, ls := c.state, c.buf, c.listeners
	opts := c.opts
	topts := c.transportOptions()
	c.mu.RUnlock()

	switch {
	case state == StateTornDown:
		return errors.Precondition("Connector", "Activate", "connector torn down")
	case state == StateActive:
		return nil
	case buf == nil || ls == nil:
		return errors.Precondition("Connector", "Activate", "buffer and listeners must be attached")
	case c.gate != nil && !c.gate.AcceptingData():
		return errors.Precondition("Connector", "Activate", "owning component is not alive")
	}

	if c.role != RoleLocal && opts.Transport == "" {
		return errors.BadParam("Connector", "Activate", KeyTransport+" is required for "+c.role.String())
	}

	var (
		provider transport.Provider
		consumer transport.Consumer
		pub      *publisher
	)

	switch c.role {
	case RoleProvider:
		p, err := c.registry.CreateProvider(opts.Transport, c.deps)
		if err != nil {
			c.setLastError(err)
			return err
		}
		if err := p.Init(topts); err != nil {
			c.setLastError(err)
			return err
		}
		if err := p.Connect(ctx, (*inbound)(c)); err != nil {
			_ = p.Disconnect()
			c.setLastError(err)
			c.logger.Warn("Provider connect failed", "transport", opts.Transport, "topic", topts.Topic, "error", err)
			return err
		}
		provider = p

	case RoleConsumer:
		cons, err := c.registry.CreateConsumer(opts.Transport, c.deps)
		if err != nil {
			c.setLastError(err)
			return err
		}
		if err := cons.Init(topts); err != nil {
			c.setLastError(err)
			return err
		}
		if err := cons.Connect(ctx, (*outbound)(c)); err != nil {
			_ = cons.Disconnect()
			c.setLastError(err)
			c.logger.Warn("Consumer connect failed", "transport", opts.Transport, "topic", topts.Topic, "error", err)
			return err
		}
		consumer = cons
		pub = newPublisher(c, cons, buf, opts.Publisher)
	}

	c.mu.Lock()
	c.provider, c.consumer, c.pub = provider, consumer, pub
	c.state = StateActive
	c.mu.Unlock()

	if pub != nil {
		pub.start()
	}

	c.metrics.RecordConnectorUp(c.transportLabel(), c.role.String())
	c.logger.Info("Connector activated", "transport", c.transportLabel(), "topic", topts.Topic)
	return nil
}

// Deactivate releases the transport endpoint and keeps the buffer, listeners and
// configuration so the connector can be activated again.
func (c *Connector) Deactivate() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.deactivate()
}

func (c *Connector) deactivate() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	provider, consumer, pub := c.provider, c.consumer, c.pub
	c.provider, c.consumer, c.pub = nil, nil, nil
	c.state = StateInactive
	c.mu.Unlock()

	var err error
	if provider != nil {
		err = provider.Disconnect()
	}
	if consumer != nil {
		err = consumer.Disconnect()
	}
	if pub != nil {
		pub.stop()
	}

	c.metrics.RecordConnectorDown(c.transportLabel(), c.role.String())
	if err != nil {
		return errors.Wrap(err, "Connector", "Deactivate", "disconnect endpoint")
	}
	return nil
}

// Reconnect tears down the current link(s) and runs the handshake again
func (c *Connector) Reconnect(ctx context.Context) error {
	if err := c.Deactivate(); err != nil {
		c.logger.Warn("Disconnect before reconnect failed", "error", err)
	}
	return c.Activate(ctx)
}

// Teardown releases the link(s), then closes the buffer and drops the listener
// references. Concurrent push and pull observe PRECONDITION_NOT_MET once the
// buffer is closed. Calls after the first are no-ops.
func (c *Connector) Teardown() error {
	c.teardown.Do(func() {
		c.tearingDown.Store(true)

		c.opMu.Lock()
		defer c.opMu.Unlock()

		c.teardownErr = c.deactivate()

		c.mu.Lock()
		buf := c.buf
		c.state = StateTornDown
		c.buf = nil
		c.listeners = nil
		c.mu.Unlock()

		if buf != nil {
			_ = buf.Close()
		}
		c.logger.Debug("Connector torn down")
	})
	return c.teardownErr
}

func (c *Connector) snapshot() (buffer.Buffer[transport.Payload], *listener.Registry, State, Options) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf, c.listeners, c.state, c.opts
}

func (c *Connector) notify(ls *listener.Registry, kind listener.Kind, p transport.Payload, st buffer.Status, err error) {
	if ls == nil {
		return
	}
	ls.Notify(listener.Event{
		Kind:        kind,
		ConnectorID: c.id,
		Port:        c.ref.Port,
		Payload:     p,
		Status:      st,
		Err:         err,
	})
}

// Push writes p into the buffer and fires the notifications for the resulting
// status. With the default async publisher it never blocks longer than the
// configured write timeout; the flush publisher also waits for the send. Pushing into
// a provider is reserved for the transport and returns PRECONDITION_NOT_MET.
func (c *Connector) Push(p transport.Payload) buffer.Status {
	if c.role == RoleProvider {
		_, ls, _, _ := c.snapshot()
		c.notify(ls, listener.ReceiverError, p, buffer.PreconditionNotMet,
			errors.Precondition("Connector", "Push", "provider connectors are written by their transport"))
		return buffer.PreconditionNotMet
	}
	return c.push(p.Clone(), originLocal)
}

func (c *Connector) push(p transport.Payload, from origin) buffer.Status {
	buf, ls, state, opts := c.snapshot()

	var res buffer.WriteResult
	switch {
	case buf == nil || state == StateTornDown:
		res.Status = buffer.PreconditionNotMet
	case c.gate != nil && !c.gate.AcceptingData():
		res.Status = buffer.PreconditionNotMet
	default:
		res = buf.WriteDetailed(p, opts.WriteTimeout)
	}

	switch res.Status {
	case buffer.OK:
		if res.Overwrote {
			c.notify(ls, listener.BufferOverwrite, p, res.Status, nil)
		}
		c.notify(ls, listener.BufferWrite, p, res.Status, nil)
		if from == originInbound {
			c.notify(ls, listener.Received, p, res.Status, nil)
		}
	case buffer.Full:
		c.notify(ls, listener.BufferFull, p, res.Status, nil)
		c.notify(ls, listener.ReceiverFull, p, res.Status, nil)
	case buffer.Timeout:
		c.notify(ls, listener.BufferWriteTimeout, p, res.Status, nil)
		c.notify(ls, listener.ReceiverTimeout, p, res.Status, nil)
	default:
		c.notify(ls, listener.ReceiverError, p, res.Status, nil)
	}

	label := c.transportLabel()
	if from == originInbound {
		c.metrics.RecordReceive(label, res.Status.String())
	} else {
		c.metrics.RecordPush(label, res.Status.String())
	}

	if res.Status == buffer.OK && c.role == RoleConsumer {
		c.mu.RLock()
		pub := c.pub
		c.mu.RUnlock()
		if pub != nil {
			pub.kick()
		}
	}
	return res.Status
}

// Pull removes the oldest payload. It never blocks: an empty buffer returns
// EMPTY and fires nothing. Pulling from a consumer, whose buffer belongs to the
// publisher, returns PRECONDITION_NOT_MET.
func (c *Connector) Pull() (transport.Payload, buffer.Status) {
	buf, ls, state, _ := c.snapshot()

	if buf == nil || state == StateTornDown || c.role == RoleConsumer {
		c.notify(ls, listener.ReceiverError, nil, buffer.PreconditionNotMet, nil)
		return nil, buffer.PreconditionNotMet
	}

	p, st := buf.Read()
	switch st {
	case buffer.OK, buffer.Empty:
	default:
		c.notify(ls, listener.ReceiverError, nil, st, nil)
	}
	return p, st
}

// inbound is the Sink view handed to a provider
type inbound Connector

func (s *inbound) Deliver(p transport.Payload) buffer.Status {
	return (*Connector)(s).push(p, originInbound)
}

func (s *inbound) LinkUp(peer string) {
	(*Connector)(s).logger.Info("Link up", "peer", peer)
}

func (s *inbound) LinkDown(peer string, err error) {
	(*Connector)(s).linkDown(peer, err, listener.ReceiverError)
}

// outbound is the Observer view handed to a consumer
type outbound Connector

func (o *outbound) LinkUp(peer string) {
	(*Connector)(o).logger.Info("Link up", "peer", peer)
}

func (o *outbound) LinkDown(peer string, err error) {
	(*Connector)(o).linkDown(peer, err, listener.SendError)
}

func (c *Connector) linkDown(peer string, err error, kind listener.Kind) {
	if err == nil {
		c.logger.Info("Link closed", "peer", peer)
		return
	}
	c.setLastError(err)
	c.metrics.RecordError(c.transportLabel(), errors.Classify(err).String())
	if c.tearingDown.Load() {
		return
	}
	c.logger.Warn("Link lost", "peer", peer, "error", err)
	_, ls, _, _ := c.snapshot()
	c.notify(ls, kind, nil, buffer.Error, err)
}
