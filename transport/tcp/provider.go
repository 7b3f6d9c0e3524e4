package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/pkg/retry"
	"github.com/c360/rtlink/transport"
)

// Provider is the receiving end. It dials the publisher, exchanges headers and
// feeds every frame it reads into the sink. A lost link is reported once and
// not re-established.
type Provider struct {
	logger    *slog.Logger
	metrics   *metric.Metrics
	directory naming.Directory
	links     *transport.LinkTable

	opts  transport.Options
	cfg   settings
	local transport.Header

	mu      sync.Mutex
	sink    transport.Sink
	link    *transport.Link
	closing atomic.Bool
	wg      sync.WaitGroup
}

var _ transport.Provider = (*Provider)(nil)

// NewProvider creates an unconnected provider
func NewProvider(deps transport.Dependencies) *Provider {
	return &Provider{
		logger:    deps.LoggerOr(),
		metrics:   deps.Metrics,
		directory: deps.Directory,
		links:     transport.NewLinkTable(Name, deps.Metrics),
	}
}

// Init validates the options and parses the tcp.* properties
func (p *Provider) Init(opts transport.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	cfg, err := parseSettings(opts)
	if err != nil {
		return err
	}
	p.opts, p.cfg = opts, cfg
	p.local = opts.Header(Protocol)
	return nil
}

// resolve returns the publisher address from tcp.address or the directory
func (p *Provider) resolve(ctx context.Context) (string, error) {
	if p.cfg.address != "" {
		return p.cfg.address, nil
	}
	if p.directory == nil {
		return "", errors.BadParam("tcp.Provider", "resolve", "tcp.address is required without a directory")
	}
	rec, err := p.directory.Lookup(ctx, naming.KindEndpoint, p.opts.Topic)
	if err != nil {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrNoConnection, err), "tcp.Provider", "resolve", "lookup "+p.opts.Topic)
	}
	if rec.Transport != "" && rec.Transport != Name {
		return "", errors.BadParam("tcp.Provider", "resolve", fmt.Sprintf("endpoint %s uses transport %s", rec.Name, rec.Transport))
	}
	return rec.Address, nil
}

// Connect dials the publisher, retrying only the dial, and performs the handshake
func (p *Provider) Connect(ctx context.Context, sink transport.Sink) error {
	if sink == nil {
		return errors.BadParam("tcp.Provider", "Connect", "sink is nil")
	}
	p.mu.Lock()
	bound := p.link != nil
	p.mu.Unlock()
	if bound {
		return errors.Precondition("tcp.Provider", "Connect", "already connected")
	}

	addr, err := p.resolve(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	var (
		conn   net.Conn
		remote transport.Header
	)
	err = retry.DoContext(ctx, retry.Dial(), func(ctx context.Context) error {
		d := net.Dialer{Timeout: p.cfg.dialTimeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return errors.WrapTransient(err, "tcp.Provider", "Connect", "dial "+addr)
		}
		h, err := p.exchange(c)
		if err != nil {
			_ = c.Close()
			return retry.NonRetryable(err)
		}
		conn, remote = c, h
		return nil
	})
	transport.ObserveHandshake(p.metrics, Name, start, err)
	if err != nil {
		p.logger.Warn("Connect failed", "topic", p.opts.Topic, "addr", addr, "error", err)
		return err
	}

	link := transport.NewLink(Name, remote.CallerID, conn)
	if _, err := p.links.Attach(link); err != nil {
		_ = conn.Close()
		return err
	}

	p.closing.Store(false)
	p.mu.Lock()
	p.sink, p.link = sink, link
	p.mu.Unlock()

	sink.LinkUp(remote.CallerID)
	p.wg.Add(1)
	go p.readLoop(link, sink)
	return nil
}

// exchange writes the local header and validates the reply
func (p *Provider) exchange(conn net.Conn) (transport.Header, error) {
	_ = conn.SetDeadline(time.Now().Add(p.cfg.handshakeTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if err := transport.WriteHeader(conn, p.local); err != nil {
		return transport.Header{}, err
	}
	remote, err := transport.ReadHeader(conn)
	if err != nil {
		return transport.Header{}, errors.Handshake(err, "tcp.Provider", "exchange")
	}
	if err := transport.Negotiate(p.local, remote); err != nil {
		return transport.Header{}, err
	}
	return remote, nil
}

func (p *Provider) readLoop(l *transport.Link, sink transport.Sink) {
	defer p.wg.Done()
	conn := l.Session().(net.Conn)

	for {
		payload, err := transport.ReadFrame(conn, p.cfg.maxFrame)
		if err != nil {
			if p.closing.Load() {
				return
			}
			if p.links.Detach(l) {
				_ = l.Close()
				sink.LinkDown(l.Peer(), err)
			}
			return
		}
		if st := sink.Deliver(payload); st == buffer.OK {
			l.AddTransfer(payload.Len())
			p.metrics.RecordBytes(Name, "in", payload.Len())
		} else {
			l.AddDrop()
		}
	}
}

// Disconnect closes the link and waits for the read loop to exit
func (p *Provider) Disconnect() error {
	p.closing.Store(true)
	p.mu.Lock()
	p.sink, p.link = nil, nil
	p.mu.Unlock()

	p.links.CloseAll()
	p.wg.Wait()
	return nil
}

// Links returns the link to the publisher, if bound
func (p *Provider) Links() []transport.LinkStats {
	return p.links.Snapshot()
}
