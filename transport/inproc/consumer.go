package inproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// Consumer is the send side. It looks up the announced endpoint, negotiates
// and then writes payload copies straight into the provider's sink.
type Consumer struct {
	bus     *Bus
	logger  *slog.Logger
	metrics *metric.Metrics
	links   *transport.LinkTable

	mu     sync.Mutex
	opts   transport.Options
	obs    transport.Observer
	ep     *endpoint
	local  *transport.Link
	remote *transport.Link
}

var _ transport.Consumer = (*Consumer)(nil)

// NewConsumer creates a consumer on bus
func NewConsumer(bus *Bus, deps transport.Dependencies) *Consumer {
	return &Consumer{
		bus:     bus,
		logger:  deps.LoggerOr(),
		metrics: deps.Metrics,
		links:   transport.NewLinkTable(Name, deps.Metrics),
	}
}

// Init stores the options
func (c *Consumer) Init(opts transport.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return nil
}

// Connect resolves the endpoint and performs the handshake. A failed
// negotiation is reported to both ends and nothing is bound.
func (c *Consumer) Connect(ctx context.Context, obs transport.Observer) error {
	if obs == nil {
		return errors.BadParam("inproc.Consumer", "Connect", "observer is nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "inproc.Consumer", "Connect", "resolve endpoint")
	}

	c.mu.Lock()
	opts := c.opts
	bound := c.ep != nil
	c.mu.Unlock()
	if bound {
		return errors.Precondition("inproc.Consumer", "Connect", "already connected")
	}

	start := time.Now()
	ep, ok := c.bus.lookup(opts.Topic)
	if !ok {
		err := errors.WrapInvalid(fmt.Errorf("%w: no endpoint %s", errors.ErrNoConnection, opts.Topic),
			"inproc.Consumer", "Connect", "resolve endpoint")
		transport.ObserveHandshake(c.metrics, Name, start, err)
		return err
	}

	local := opts.Header(Protocol)
	err := transport.Negotiate(local, ep.header)
	if err == nil {
		// the provider validates the sender's header symmetrically
		err = transport.Negotiate(ep.header, local)
	}
	if err != nil {
		ep.provider.reject(local.CallerID, err)
		transport.ObserveHandshake(c.metrics, Name, start, err)
		c.logger.Warn("Handshake failed", "topic", opts.Topic, "peer", ep.header.CallerID, "error", err)
		return err
	}

	remote, err := ep.provider.accept(local.CallerID)
	if err != nil {
		transport.ObserveHandshake(c.metrics, Name, start, err)
		return err
	}
	link := transport.NewLink(Name, ep.header.CallerID, nil)
	if _, err := c.links.Attach(link); err != nil {
		ep.provider.release(remote)
		return err
	}
	transport.ObserveHandshake(c.metrics, Name, start, nil)

	c.mu.Lock()
	c.obs, c.ep, c.local, c.remote = obs, ep, link, remote
	c.mu.Unlock()

	obs.LinkUp(ep.header.CallerID)
	return nil
}

// Send copies p into the provider's buffer. A receiver that is full or timed
// out is reported as an error; a vanished provider drops the link.
func (c *Consumer) Send(ctx context.Context, p transport.Payload) error {
	c.mu.Lock()
	ep, local, remote, obs := c.ep, c.local, c.remote, c.obs
	c.mu.Unlock()

	if ep == nil || local.Dropped() {
		return errors.WrapTransient(errors.ErrNoConnection, "inproc.Consumer", "Send", "deliver")
	}
	if ep.closed.Load() || remote.Dropped() {
		c.drop(local, obs)
		return errors.WrapTransient(errors.ErrPeerDisconnected, "inproc.Consumer", "Send", "deliver")
	}

	switch st := ep.provider.deliver(remote, p.Clone()); st {
	case buffer.OK:
		local.AddTransfer(p.Len())
		return nil
	case buffer.Full:
		local.AddDrop()
		return errors.WrapTransient(errors.ErrReceiverFull, "inproc.Consumer", "Send", "deliver")
	case buffer.Timeout:
		local.AddDrop()
		return errors.WrapTransient(errors.ErrReceiverTimeout, "inproc.Consumer", "Send", "deliver")
	default:
		local.AddDrop()
		return errors.WrapTransient(fmt.Errorf("%w: receiver returned %s", errors.ErrConnectionLost, st),
			"inproc.Consumer", "Send", "deliver")
	}
}

func (c *Consumer) drop(l *transport.Link, obs transport.Observer) {
	if c.links.Detach(l) {
		_ = l.Close()
		if obs != nil {
			obs.LinkDown(l.Peer(), errors.ErrPeerDisconnected)
		}
	}
}

// Disconnect releases both ends of the link
func (c *Consumer) Disconnect() error {
	c.mu.Lock()
	ep, remote := c.ep, c.remote
	c.ep, c.local, c.remote, c.obs = nil, nil, nil, nil
	c.mu.Unlock()

	if ep != nil && remote != nil {
		ep.provider.release(remote)
	}
	c.links.CloseAll()
	return nil
}

// Links returns the link to the provider, if bound
func (c *Consumer) Links() []transport.LinkStats {
	return c.links.Snapshot()
}
