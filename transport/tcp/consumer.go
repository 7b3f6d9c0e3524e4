package tcp

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/pkg/worker"
	"github.com/c360/rtlink/transport"
)

// Consumer is the sending end. It accepts subscribers on a listener, runs their
// handshakes on a bounded worker pool and writes every payload to each link.
type Consumer struct {
	logger    *slog.Logger
	metrics   *metric.Metrics
	directory naming.Directory
	links     *transport.LinkTable

	opts  transport.Options
	cfg   settings
	local transport.Header

	mu        sync.Mutex
	obs       transport.Observer
	listener  net.Listener
	pool      *worker.Pool[net.Conn]
	limiter   *rate.Limiter
	cancel    context.CancelFunc
	announced bool
	// closed is set by Disconnect; handshakes attach links and join wg only
	// while it is false, both under mu
	closed bool
	wg     sync.WaitGroup
}

var _ transport.Consumer = (*Consumer)(nil)

// NewConsumer creates an unconnected consumer
func NewConsumer(deps transport.Dependencies) *Consumer {
	return &Consumer{
		logger:    deps.LoggerOr(),
		metrics:   deps.Metrics,
		directory: deps.Directory,
		links:     transport.NewLinkTable(Name, deps.Metrics),
	}
}

// Init validates the options and parses the tcp.* properties
func (c *Consumer) Init(opts transport.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	cfg, err := parseSettings(opts)
	if err != nil {
		return err
	}
	c.opts, c.cfg = opts, cfg
	c.local = opts.Header(Protocol)
	return nil
}

// Addr returns the listening address once connected
func (c *Consumer) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Connect starts listening, announces the address and begins accepting
func (c *Consumer) Connect(ctx context.Context, obs transport.Observer) error {
	if obs == nil {
		return errors.BadParam("tcp.Consumer", "Connect", "observer is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return errors.Precondition("tcp.Consumer", "Connect", "already connected")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.cfg.bind)
	if err != nil {
		return errors.WrapTransient(err, "tcp.Consumer", "Connect", "listen on "+c.cfg.bind)
	}

	pool, err := worker.NewPool(c.cfg.workers, c.cfg.workers*4, c.handshake)
	if err != nil {
		_ = ln.Close()
		return errors.WrapFatal(err, "tcp.Consumer", "Connect", "create handshake pool")
	}

	limit := rate.Inf
	if c.cfg.rate > 0 {
		limit = rate.Limit(c.cfg.rate)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(runCtx); err != nil {
		cancel()
		_ = ln.Close()
		return errors.WrapFatal(err, "tcp.Consumer", "Connect", "start handshake pool")
	}

	c.obs, c.listener, c.pool, c.cancel = obs, ln, pool, cancel
	c.closed = false
	c.limiter = rate.NewLimiter(limit, max(c.cfg.workers, 1))

	if c.directory != nil {
		rec := naming.Record{
			Name:      c.opts.Topic,
			Kind:      naming.KindEndpoint,
			Transport: Name,
			Address:   ln.Addr().String(),
			DataType:  c.local.DataType,
			Checksum:  c.local.Checksum,
			Protocol:  Protocol,
			Owner:     c.local.CallerID,
		}
		if err := c.directory.Register(ctx, rec); err != nil {
			c.obs, c.listener, c.pool, c.cancel = nil, nil, nil, nil
			c.shutdown(cancel, ln, pool, false)
			return errors.Wrap(err, "tcp.Consumer", "Connect", "announce "+c.opts.Topic)
		}
		c.announced = true
	}

	c.wg.Add(1)
	go c.acceptLoop(runCtx, ln, pool)

	c.logger.Info("Listening for subscribers", "topic", c.opts.Topic, "addr", ln.Addr().String())
	return nil
}

func (c *Consumer) acceptLoop(ctx context.Context, ln net.Listener, pool *worker.Pool[net.Conn]) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("Accept failed", "error", err)
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			_ = conn.Close()
			return
		}
		if err := pool.Submit(conn); err != nil {
			c.logger.Warn("Handshake queue full, dropping connection", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
		}
	}
}

// handshake runs on a pool worker for each accepted socket
func (c *Consumer) handshake(ctx context.Context, conn net.Conn) error {
	start := time.Now()
	_ = conn.SetDeadline(start.Add(c.cfg.handshakeTimeout))

	remote, err := transport.ReadHeader(conn)
	if err != nil {
		_ = conn.Close()
		transport.ObserveHandshake(c.metrics, Name, start, err)
		c.logger.Debug("Bad subscriber header", "remote", conn.RemoteAddr().String(), "error", err)
		return err
	}

	obs := c.observer()
	if err := transport.Negotiate(c.local, remote); err != nil {
		_ = transport.WriteHeader(conn, transport.RejectHeader(c.local.CallerID, err))
		_ = conn.Close()
		transport.ObserveHandshake(c.metrics, Name, start, err)
		c.logger.Warn("Subscriber rejected", "peer", remote.CallerID, "error", err)
		if obs != nil {
			obs.LinkDown(remote.CallerID, err)
		}
		return err
	}

	link := transport.NewLink(Name, remote.CallerID, conn)
	c.mu.Lock()
	if c.closed || ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.WrapTransient(errors.ErrConnectionLost, "tcp.Consumer", "handshake", "bind link")
	}
	replaced, err := c.links.Attach(link)
	if err == nil {
		// held for the watch goroutine
		c.wg.Add(1)
	}
	c.mu.Unlock()
	if err != nil {
		_ = transport.WriteHeader(conn, transport.RejectHeader(c.local.CallerID, err))
		_ = conn.Close()
		transport.ObserveHandshake(c.metrics, Name, start, err)
		c.logger.Warn("Duplicate subscriber rejected", "peer", remote.CallerID)
		return err
	}
	if replaced != nil {
		_ = replaced.Close()
	}

	if err := transport.WriteHeader(conn, c.local); err != nil {
		c.links.Detach(link)
		_ = link.Close()
		c.wg.Done()
		transport.ObserveHandshake(c.metrics, Name, start, err)
		return err
	}
	_ = conn.SetDeadline(time.Time{})
	transport.ObserveHandshake(c.metrics, Name, start, nil)

	go c.watch(link)

	if obs != nil {
		obs.LinkUp(remote.CallerID)
	}
	return nil
}

// watch notices a subscriber hanging up. Subscribers never send after the
// handshake, so anything ending the read is the end of the link.
func (c *Consumer) watch(l *transport.Link) {
	defer c.wg.Done()
	conn := l.Session().(net.Conn)
	_, _ = io.Copy(io.Discard, conn)

	if c.links.Detach(l) {
		_ = l.Close()
		if obs := c.observer(); obs != nil {
			obs.LinkDown(l.Peer(), nil)
		}
	}
}

func (c *Consumer) observer() transport.Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obs
}

// Send writes p as one frame to every link. A link whose write fails is torn
// down and reported through the observer; the other links still get the frame.
// A payload that reached no subscriber is an error.
func (c *Consumer) Send(ctx context.Context, p transport.Payload) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "tcp.Consumer", "Send", "write frame")
	}
	frame := transport.EncodeFrame(p)
	attempted, delivered := 0, 0
	c.links.Each(func(l *transport.Link) {
		if l.Dropped() {
			return
		}
		attempted++
		conn := l.Session().(net.Conn)
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
		if _, err := conn.Write(frame); err != nil {
			c.drop(l, errors.WrapTransient(stderrors.Join(errors.ErrConnectionLost, err), "tcp.Consumer", "Send", "write frame"))
			return
		}
		l.AddTransfer(p.Len())
		delivered++
	})
	switch {
	case attempted == 0:
		return errors.WrapTransient(errors.ErrNoConnection, "tcp.Consumer", "Send", "write frame")
	case delivered == 0:
		return errors.WrapTransient(errors.ErrConnectionLost, "tcp.Consumer", "Send", "write frame")
	}
	return nil
}

func (c *Consumer) drop(l *transport.Link, err error) {
	if c.links.Detach(l) {
		_ = l.Close()
		c.logger.Warn("Subscriber link dropped", "peer", l.Peer(), "error", err)
		if obs := c.observer(); obs != nil {
			obs.LinkDown(l.Peer(), err)
		}
	}
}

// Disconnect stops accepting, closes every link and withdraws the announcement
func (c *Consumer) Disconnect() error {
	c.mu.Lock()
	cancel, ln, pool, announced := c.cancel, c.listener, c.pool, c.announced
	c.cancel, c.listener, c.pool, c.announced, c.obs = nil, nil, nil, false, nil
	c.closed = true
	c.mu.Unlock()

	c.shutdown(cancel, ln, pool, announced)
	c.links.CloseAll()
	c.wg.Wait()
	return nil
}

// shutdown releases the accept side; it must run without c.mu held because
// pool workers read the observer under it
func (c *Consumer) shutdown(cancel context.CancelFunc, ln net.Listener, pool *worker.Pool[net.Conn], announced bool) {
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if pool != nil {
		_ = pool.Stop(c.cfg.handshakeTimeout)
	}
	if announced {
		_ = c.directory.Unregister(context.Background(), naming.KindEndpoint, c.opts.Topic)
	}
}

// Links returns one entry per subscriber
func (c *Consumer) Links() []transport.LinkStats {
	return c.links.Snapshot()
}
