package nats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/natsclient"
	"github.com/c360/rtlink/transport"
)

// Consumer is the sending end. Every bound subscriber is a link keyed by its
// caller id; one publish on the data subject reaches all of them.
type Consumer struct {
	client    *natsclient.Client
	logger    *slog.Logger
	metrics   *metric.Metrics
	directory naming.Directory
	links     *transport.LinkTable

	opts     transport.Options
	subjects Subjects
	local    transport.Header

	mu        sync.Mutex
	obs       transport.Observer
	subs      []*natsclient.Subscription
	announced bool
}

var _ transport.Consumer = (*Consumer)(nil)

// NewConsumer creates an unconnected consumer
func NewConsumer(deps transport.Dependencies) *Consumer {
	return &Consumer{
		client:    deps.NATS,
		logger:    deps.LoggerOr(),
		metrics:   deps.Metrics,
		directory: deps.Directory,
		links:     transport.NewLinkTable(Name, deps.Metrics),
	}
}

// Init validates the options and derives the subjects
func (c *Consumer) Init(opts transport.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	subjects, err := SubjectsFor(opts.Topic)
	if err != nil {
		return err
	}
	c.opts, c.subjects = opts, subjects
	c.local = opts.Header(Protocol)
	return nil
}

// Connect serves the bind and unbind subjects and announces the topic
func (c *Consumer) Connect(ctx context.Context, obs transport.Observer) error {
	if obs == nil {
		return errors.BadParam("nats.Consumer", "Connect", "observer is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		return errors.Precondition("nats.Consumer", "Connect", "already connected")
	}
	c.obs = obs

	bind, err := c.client.SubscribeMsg(c.subjects.Bind, c.handleBind)
	if err != nil {
		return errors.Wrap(err, "nats.Consumer", "Connect", "serve "+c.subjects.Bind)
	}
	unbind, err := c.client.SubscribeMsg(c.subjects.Unbind, c.handleUnbind)
	if err != nil {
		_ = bind.Unsubscribe()
		return errors.Wrap(err, "nats.Consumer", "Connect", "serve "+c.subjects.Unbind)
	}
	c.subs = []*natsclient.Subscription{bind, unbind}

	if err := c.client.Flush(ctx); err != nil {
		c.unsubscribeLocked()
		return errors.Wrap(err, "nats.Consumer", "Connect", "flush subscriptions")
	}

	if c.directory != nil {
		rec := naming.Record{
			Name:      c.opts.Topic,
			Kind:      naming.KindEndpoint,
			Transport: Name,
			Address:   c.subjects.Data,
			DataType:  c.local.DataType,
			Checksum:  c.local.Checksum,
			Protocol:  Protocol,
			Owner:     c.local.CallerID,
		}
		if err := c.directory.Register(ctx, rec); err != nil {
			c.unsubscribeLocked()
			return errors.Wrap(err, "nats.Consumer", "Connect", "announce "+c.opts.Topic)
		}
		c.announced = true
	}

	c.logger.Info("Serving topic", "topic", c.opts.Topic, "subject", c.subjects.Data)
	return nil
}

func (c *Consumer) observer() transport.Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obs
}

func (c *Consumer) handleBind(msg *natsio.Msg) {
	start := time.Now()
	reply := func(h transport.Header) {
		body, err := h.MarshalBinary()
		if err == nil {
			err = msg.Respond(body)
		}
		if err != nil {
			c.logger.Warn("Bind reply failed", "error", err)
		}
	}

	remote, err := transport.DecodeHeader(msg.Data)
	if err != nil {
		transport.ObserveHandshake(c.metrics, Name, start, err)
		reply(transport.RejectHeader(c.local.CallerID, err))
		return
	}

	obs := c.observer()
	if err := transport.Negotiate(c.local, remote); err != nil {
		transport.ObserveHandshake(c.metrics, Name, start, err)
		c.logger.Warn("Subscriber rejected", "peer", remote.CallerID, "error", err)
		if obs != nil {
			obs.LinkDown(remote.CallerID, err)
		}
		reply(transport.RejectHeader(c.local.CallerID, err))
		return
	}

	link := transport.NewLink(Name, remote.CallerID, nil)
	replaced, err := c.links.Attach(link)
	if err != nil {
		transport.ObserveHandshake(c.metrics, Name, start, err)
		reply(transport.RejectHeader(c.local.CallerID, err))
		c.logger.Warn("Duplicate subscriber rejected", "peer", remote.CallerID)
		return
	}
	if replaced != nil {
		_ = replaced.Close()
	}

	transport.ObserveHandshake(c.metrics, Name, start, nil)
	reply(c.local)
	if obs != nil {
		obs.LinkUp(remote.CallerID)
	}
}

func (c *Consumer) handleUnbind(msg *natsio.Msg) {
	remote, err := transport.DecodeHeader(msg.Data)
	if err != nil {
		return
	}
	if l, ok := c.links.Get(remote.CallerID); ok && c.links.Detach(l) {
		_ = l.Close()
		if obs := c.observer(); obs != nil {
			obs.LinkDown(remote.CallerID, nil)
		}
	}
}

// Send publishes p once on the data subject when at least one subscriber is bound
func (c *Consumer) Send(ctx context.Context, p transport.Payload) error {
	if c.links.Len() == 0 {
		return errors.WrapTransient(errors.ErrNoConnection, "nats.Consumer", "Send", "publish "+c.subjects.Data)
	}
	if err := c.client.Publish(ctx, c.subjects.Data, transport.EncodeFrame(p)); err != nil {
		c.links.Each(func(l *transport.Link) { l.AddDrop() })
		return errors.WrapTransient(err, "nats.Consumer", "Send", "publish "+c.subjects.Data)
	}
	c.links.Each(func(l *transport.Link) { l.AddTransfer(p.Len()) })
	return nil
}

// Disconnect stops serving, drops every link and withdraws the announcement
func (c *Consumer) Disconnect() error {
	c.mu.Lock()
	c.unsubscribeLocked()
	c.obs = nil
	announced := c.announced
	c.announced = false
	c.mu.Unlock()

	if announced {
		_ = c.directory.Unregister(context.Background(), naming.KindEndpoint, c.opts.Topic)
	}
	c.links.CloseAll()
	return nil
}

func (c *Consumer) unsubscribeLocked() {
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	c.subs = nil
}

// Links returns one entry per bound subscriber
func (c *Consumer) Links() []transport.LinkStats {
	return c.links.Snapshot()
}
