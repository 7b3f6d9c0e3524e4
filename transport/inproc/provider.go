package inproc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// Provider is the receive side. It announces its topic on the bus and accepts
// one link per sending connector.
type Provider struct {
	bus     *Bus
	logger  *slog.Logger
	metrics *metric.Metrics
	links   *transport.LinkTable

	mu   sync.Mutex
	opts transport.Options
	sink transport.Sink
	ep   *endpoint
}

var _ transport.Provider = (*Provider)(nil)

// NewProvider creates a provider on bus
func NewProvider(bus *Bus, deps transport.Dependencies) *Provider {
	return &Provider{
		bus:     bus,
		logger:  deps.LoggerOr(),
		metrics: deps.Metrics,
		links:   transport.NewLinkTable(Name, deps.Metrics),
	}
}

// Init stores the options
func (p *Provider) Init(opts transport.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	return nil
}

// Connect announces the endpoint. Links are created as senders connect.
func (p *Provider) Connect(ctx context.Context, sink transport.Sink) error {
	if sink == nil {
		return errors.BadParam("inproc.Provider", "Connect", "sink is nil")
	}
	p.mu.Lock()
	if p.ep != nil {
		p.mu.Unlock()
		return errors.Precondition("inproc.Provider", "Connect", "already connected")
	}
	ep := &endpoint{topic: p.opts.Topic, header: p.opts.Header(Protocol), provider: p}
	p.sink = sink
	p.ep = ep
	p.mu.Unlock()

	if err := p.bus.announce(ctx, ep); err != nil {
		p.mu.Lock()
		p.ep, p.sink = nil, nil
		p.mu.Unlock()
		return err
	}
	p.logger.Debug("Endpoint announced", "topic", ep.topic)
	return nil
}

// accept binds a sender after it negotiated successfully
func (p *Provider) accept(peer string) (*transport.Link, error) {
	l := transport.NewLink(Name, peer, nil)
	replaced, err := p.links.Attach(l)
	if err != nil {
		p.logger.Warn("Rejected duplicate link", "peer", peer)
		return nil, err
	}
	if replaced != nil {
		_ = replaced.Close()
	}
	if s := p.currentSink(); s != nil {
		s.LinkUp(peer)
	}
	return l, nil
}

// reject tells the sink that a sender failed negotiation
func (p *Provider) reject(peer string, err error) {
	if s := p.currentSink(); s != nil {
		s.LinkDown(peer, err)
	}
}

// release drops the sender's link after an orderly disconnect
func (p *Provider) release(l *transport.Link) {
	if p.links.Detach(l) {
		_ = l.Close()
		if s := p.currentSink(); s != nil {
			s.LinkDown(l.Peer(), nil)
		}
	}
}

func (p *Provider) deliver(l *transport.Link, payload transport.Payload) buffer.Status {
	s := p.currentSink()
	if s == nil || l.Dropped() {
		return buffer.PreconditionNotMet
	}
	st := s.Deliver(payload)
	if st == buffer.OK {
		l.AddTransfer(payload.Len())
		p.metrics.RecordBytes(Name, "in", payload.Len())
	} else {
		l.AddDrop()
	}
	return st
}

func (p *Provider) currentSink() transport.Sink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

// Disconnect withdraws the endpoint and drops every link
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	ep := p.ep
	p.ep, p.sink = nil, nil
	p.mu.Unlock()

	if ep != nil {
		p.bus.withdraw(context.Background(), ep)
	}
	p.links.CloseAll()
	return nil
}

// Links returns the sender links
func (p *Provider) Links() []transport.LinkStats {
	return p.links.Snapshot()
}
