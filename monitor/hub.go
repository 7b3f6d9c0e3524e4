// Package monitor streams listener notifications to websocket clients so an
// operator can watch BUFFER_FULL, RECEIVER_ERROR and friends live.
//
// Listener callbacks run on the data path, so Publish never blocks: every client
// has a bounded outbound queue that overwrites its oldest message when the
// client falls behind.
package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/rtlink/connector"
	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/listener"
	"github.com/c360/rtlink/pkg/buffer"
)

const (
	// DefaultQueue is the per-client outbound queue length
	DefaultQueue = 256

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 2 * pingInterval
)

// Message is one event as sent to clients
type Message struct {
	Source string `json:"source"`
	listener.Event
}

// Stats counts hub traffic
type Stats struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Option configures a Hub
type Option func(*Hub)

// WithQueue sets the per-client queue length
func WithQueue(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// WithLogger sets the hub logger
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hub fans events out to connected websocket clients
type Hub struct {
	logger   *slog.Logger
	queue    int
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup

	sent    atomic.Uint64
	dropped atomic.Uint64
}

type client struct {
	conn *websocket.Conn
	out  buffer.Buffer[[]byte]
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.out.Close()
		_ = c.conn.Close()
	})
}

// NewHub creates a hub with no clients
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:  slog.Default(),
		queue:   DefaultQueue,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// read-only operator stream, served next to /metrics
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "monitor")
	return h
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "monitor closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	out, err := buffer.NewCircularBuffer[[]byte](h.queue,
		buffer.WithOverflowPolicy[[]byte](buffer.Overwrite),
		buffer.WithDropCallback[[]byte](func([]byte) { h.dropped.Add(1) }),
	)
	if err != nil {
		_ = conn.Close()
		h.logger.Error("Client queue creation failed", "error", err)
		return
	}
	c := &client{conn: conn, out: out, wake: make(chan struct{}, 1), done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Info("Monitor client connected", "remote", r.RemoteAddr)
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Info("Monitor client disconnected", "remote", c.conn.RemoteAddr().String())
	}
}

// readLoop discards client frames; it exists to process control frames and
// notice the peer going away
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.wake:
			for {
				data, st := c.out.Read()
				if st != buffer.OK {
					break
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
				h.sent.Add(1)
			}
		}
	}
}

// Publish queues ev for every client. It never blocks.
func (h *Hub) Publish(source string, ev listener.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(Message{Source: source, Event: ev})
	if err != nil {
		h.logger.Warn("Event encoding failed", "kind", ev.Kind.String(), "error", err)
		return
	}
	for c := range h.clients {
		if c.out.Write(data) != buffer.OK {
			h.dropped.Add(1)
			continue
		}
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// Tap subscribes the hub to every kind in reg, labelling events with source.
// The handles remove the subscription again.
func (h *Hub) Tap(source string, reg *listener.Registry) ([]listener.Handle, error) {
	if reg == nil {
		return nil, errors.BadParam("Hub", "Tap", "listener registry is nil")
	}
	return reg.AddAll(func(ev listener.Event) { h.Publish(source, ev) })
}

// TapConnector taps a connector's registry using the connector's port and
// role as the source label
func (h *Hub) TapConnector(c *connector.Connector, reg *listener.Registry) {
	source := c.Port().Port + "/" + c.Role().String()
	if _, err := h.Tap(source, reg); err != nil {
		h.logger.Warn("Tap failed", "connector", c.ID(), "error", err)
	}
}

// Stats returns the current counters
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{Clients: n, Sent: h.sent.Load(), Dropped: h.dropped.Load()}
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		c.close()
	}
	h.wg.Wait()
	return nil
}
