package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/natsclient"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// Provider is the receiving end. It subscribes to the data subject, binds with
// the publisher and delivers each frame into the sink.
type Provider struct {
	client    *natsclient.Client
	logger    *slog.Logger
	metrics   *metric.Metrics
	directory naming.Directory
	links     *transport.LinkTable

	opts     transport.Options
	subjects Subjects
	local    transport.Header
	maxFrame int

	mu   sync.Mutex
	sink transport.Sink
	sub  *natsclient.Subscription
	link *transport.Link
}

var _ transport.Provider = (*Provider)(nil)

// NewProvider creates an unconnected provider
func NewProvider(deps transport.Dependencies) *Provider {
	return &Provider{
		client:    deps.NATS,
		logger:    deps.LoggerOr(),
		metrics:   deps.Metrics,
		directory: deps.Directory,
		links:     transport.NewLinkTable(Name, deps.Metrics),
	}
}

// Init validates the options and derives the subjects
func (p *Provider) Init(opts transport.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	subjects, err := SubjectsFor(opts.Topic)
	if err != nil {
		return err
	}
	maxFrame, err := opts.PropInt(PropMaxFrame, transport.DefaultMaxFrame)
	if err != nil {
		return err
	}
	p.opts, p.subjects, p.maxFrame = opts, subjects, maxFrame
	p.local = opts.Header(Protocol)
	return nil
}

// precheck refuses a topic the directory says is served by another transport.
// Type compatibility is left to the bind so the publisher hears about it too.
func (p *Provider) precheck(ctx context.Context) error {
	if p.directory == nil {
		return nil
	}
	rec, err := p.directory.Lookup(ctx, naming.KindEndpoint, p.opts.Topic)
	if err != nil {
		return nil
	}
	if rec.Transport != "" && rec.Transport != Name {
		return errors.BadParam("nats.Provider", "Connect", fmt.Sprintf("endpoint %s uses transport %s", rec.Name, rec.Transport))
	}
	return nil
}

// Connect subscribes to the data subject and then binds. Subscribing first
// means no frame published after the bind reply is missed.
func (p *Provider) Connect(ctx context.Context, sink transport.Sink) error {
	if sink == nil {
		return errors.BadParam("nats.Provider", "Connect", "sink is nil")
	}
	p.mu.Lock()
	bound := p.sub != nil
	p.mu.Unlock()
	if bound {
		return errors.Precondition("nats.Provider", "Connect", "already connected")
	}

	start := time.Now()
	if err := p.precheck(ctx); err != nil {
		transport.ObserveHandshake(p.metrics, Name, start, err)
		return err
	}

	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	sub, err := p.client.Subscribe(ctx, p.subjects.Data, p.handleData)
	if err != nil {
		return errors.Wrap(err, "nats.Provider", "Connect", "subscribe "+p.subjects.Data)
	}

	remote, err := p.bind(ctx)
	transport.ObserveHandshake(p.metrics, Name, start, err)
	if err != nil {
		_ = sub.Unsubscribe()
		p.logger.Warn("Bind failed", "topic", p.opts.Topic, "error", err)
		return err
	}

	link := transport.NewLink(Name, remote.CallerID, nil)
	if _, err := p.links.Attach(link); err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	p.mu.Lock()
	p.sub, p.link = sub, link
	p.mu.Unlock()

	sink.LinkUp(remote.CallerID)
	return nil
}

func (p *Provider) bind(ctx context.Context) (transport.Header, error) {
	body, err := p.local.MarshalBinary()
	if err != nil {
		return transport.Header{}, errors.WrapFatal(err, "nats.Provider", "bind", "encode header")
	}
	resp, err := p.client.Request(ctx, p.subjects.Bind, body)
	if err != nil {
		return transport.Header{}, err
	}
	remote, err := transport.DecodeHeader(resp)
	if err != nil {
		return transport.Header{}, errors.Handshake(err, "nats.Provider", "bind")
	}
	if err := transport.Negotiate(p.local, remote); err != nil {
		return transport.Header{}, err
	}
	return remote, nil
}

func (p *Provider) handleData(_ context.Context, data []byte) {
	p.mu.Lock()
	sink, link := p.sink, p.link
	p.mu.Unlock()
	// not bound yet
	if sink == nil || link == nil || link.Dropped() {
		return
	}

	payload, err := transport.DecodeFrame(data, p.maxFrame)
	if err != nil {
		p.drop(link, sink, err)
		return
	}
	if st := sink.Deliver(payload); st == buffer.OK {
		link.AddTransfer(payload.Len())
		p.metrics.RecordBytes(Name, "in", payload.Len())
	} else {
		link.AddDrop()
	}
}

// drop tears the link down after a bad frame and stops listening
func (p *Provider) drop(l *transport.Link, sink transport.Sink, err error) {
	if !p.links.Detach(l) {
		return
	}
	_ = l.Close()

	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	p.unbind()
	sink.LinkDown(l.Peer(), err)
}

func (p *Provider) unbind() {
	body, err := p.local.MarshalBinary()
	if err != nil {
		return
	}
	if err := p.client.Publish(context.Background(), p.subjects.Unbind, body); err != nil {
		p.logger.Debug("Unbind publish failed", "error", err)
	}
}

// Disconnect stops listening, tells the publisher and drops the link
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	sub, link := p.sub, p.link
	p.sub, p.link, p.sink = nil, nil, nil
	p.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if link != nil && !link.Dropped() {
		p.unbind()
	}
	p.links.CloseAll()
	return nil
}

// Links returns the link to the publisher, if bound
func (p *Provider) Links() []transport.LinkStats {
	return p.links.Snapshot()
}
