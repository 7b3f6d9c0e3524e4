package transport

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
)

// LinkStats is a point-in-time copy of a link's counters
type LinkStats struct {
	Transport   string    `json:"transport"`
	Peer        string    `json:"peer"`
	Bytes       uint64    `json:"bytes"`
	Messages    uint64    `json:"messages"`
	Drops       uint64    `json:"drops"`
	Dropped     bool      `json:"dropped"`
	Established time.Time `json:"established"`
}

// Link is one live session with a peer. It exclusively owns its session handle.
// Counters and the drop flag are safe to touch from any goroutine.
type Link struct {
	transport   string
	peer        string
	session     io.Closer
	established time.Time

	bytes    atomic.Uint64
	messages atomic.Uint64
	drops    atomic.Uint64
	dropped  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewLink creates a link for peer. session may be nil for sessionless transports.
func NewLink(transport, peer string, session io.Closer) *Link {
	return &Link{
		transport:   transport,
		peer:        peer,
		session:     session,
		established: time.Now(),
	}
}

// Peer returns the peer key
func (l *Link) Peer() string {
	return l.peer
}

// Session returns the underlying session handle
func (l *Link) Session() io.Closer {
	return l.session
}

// AddTransfer counts one message of n bytes
func (l *Link) AddTransfer(n int) {
	l.messages.Add(1)
	l.bytes.Add(uint64(n))
}

// AddDrop counts one message the peer could not accept
func (l *Link) AddDrop() {
	l.drops.Add(1)
}

// MarkDropped flags the link as dead without releasing the session
func (l *Link) MarkDropped() {
	l.dropped.Store(true)
}

// Dropped reports whether the link has been flagged or closed
func (l *Link) Dropped() bool {
	return l.dropped.Load()
}

// Close marks the link dropped and releases the session once
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.dropped.Store(true)
		if l.session != nil {
			l.closeErr = l.session.Close()
		}
	})
	return l.closeErr
}

// Stats returns a snapshot of the counters
func (l *Link) Stats() LinkStats {
	return LinkStats{
		Transport:   l.transport,
		Peer:        l.peer,
		Bytes:       l.bytes.Load(),
		Messages:    l.messages.Load(),
		Drops:       l.drops.Load(),
		Dropped:     l.dropped.Load(),
		Established: l.established,
	}
}

// LinkTable holds at most one link per peer
type LinkTable struct {
	transport string
	metrics   *metric.Metrics

	mu    sync.Mutex
	links map[string]*Link
}

// NewLinkTable creates a table. metrics may be nil.
func NewLinkTable(transport string, metrics *metric.Metrics) *LinkTable {
	return &LinkTable{
		transport: transport,
		metrics:   metrics,
		links:     make(map[string]*Link),
	}
}

// Attach adds l. If a live link for the same peer exists, l is rejected with
// ErrLinkExists and the existing link is kept. A dropped link is replaced and
// returned so the caller can finish releasing it.
func (t *LinkTable) Attach(l *Link) (replaced *Link, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.links[l.peer]; ok {
		if !existing.Dropped() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrLinkExists, l.peer), "LinkTable", "Attach", "bind link")
		}
		replaced = existing
	} else {
		t.metrics.RecordLinks(t.transport, 1)
	}
	t.links[l.peer] = l
	return replaced, nil
}

// Get returns the link for peer
func (t *LinkTable) Get(peer string) (*Link, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[peer]
	return l, ok
}

// Detach removes l if it is still the link held for its peer. A link that has
// already been replaced is left alone.
func (t *LinkTable) Detach(l *Link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.links[l.peer]; ok && current == l {
		delete(t.links, l.peer)
		t.metrics.RecordLinks(t.transport, -1)
		return true
	}
	return false
}

// Each calls fn for every link, outside the table lock
func (t *LinkTable) Each(fn func(*Link)) {
	for _, l := range t.list() {
		fn(l)
	}
}

func (t *LinkTable) list() []*Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		out = append(out, l)
	}
	return out
}

// Len returns the number of links held
func (t *LinkTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

// Snapshot returns stats for every link sorted by peer
func (t *LinkTable) Snapshot() []LinkStats {
	links := t.list()
	out := make([]LinkStats, 0, len(links))
	for _, l := range links {
		out = append(out, l.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// CloseAll empties the table and closes every link, returning the closed links
func (t *LinkTable) CloseAll() []*Link {
	t.mu.Lock()
	links := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.links = make(map[string]*Link)
	t.metrics.RecordLinks(t.transport, -len(links))
	t.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
	return links
}
