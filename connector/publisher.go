package connector

import (
	"context"
	"sync"

	"github.com/c360/rtlink/listener"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// publisher drains a consumer connector's buffer onto its transport. In async
// mode, the default, a dedicated goroutine drains, woken after each successful
// push, so a slow receiver never holds up Push. In flush mode the pushing
// goroutine drains and Push returns only after the transport accepted or
// refused every buffered payload.
type publisher struct {
	c        *Connector
	consumer transport.Consumer
	buf      buffer.Buffer[transport.Payload]
	async    bool

	ctx    context.Context
	cancel context.CancelFunc

	// sendMu keeps read-then-send atomic so concurrent drains preserve FIFO
	sendMu sync.Mutex

	wake chan struct{}
	wg   sync.WaitGroup
}

func newPublisher(c *Connector, consumer transport.Consumer, buf buffer.Buffer[transport.Payload], mode string) *publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &publisher{
		c:        c,
		consumer: consumer,
		buf:      buf,
		async:    mode == PublisherAsync,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}
}

func (p *publisher) start() {
	if p.async {
		p.wg.Add(1)
		go p.run()
	}
	// payloads pushed before activation
	p.kick()
}

func (p *publisher) stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *publisher) kick() {
	if !p.async {
		p.drain()
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
			p.drain()
		}
	}
}

func (p *publisher) drain() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for p.ctx.Err() == nil {
		payload, st := p.buf.Read()
		if st != buffer.OK {
			return
		}
		p.send(payload)
	}
}

func (p *publisher) send(payload transport.Payload) {
	c := p.c
	_, ls, _, _ := c.snapshot()

	err := p.consumer.Send(p.ctx, payload)
	if err != nil {
		c.setLastError(err)
		if c.tearingDown.Load() {
			return
		}
		c.logger.Debug("Send failed", "error", err, "size", payload.Len())
		c.notify(ls, listener.SendError, payload, buffer.Error, err)
		return
	}
	c.metrics.RecordBytes(c.transportLabel(), "out", payload.Len())
	c.notify(ls, listener.Sent, payload, buffer.OK, nil)
}
