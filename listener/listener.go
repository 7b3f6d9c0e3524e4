// Package listener implements the per-connector notification registry.
//
// Callbacks run synchronously, in registration order, on the goroutine that
// completed the buffer or transport operation being reported.
package listener

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/rtlink/pkg/buffer"
)

// Kind identifies a notification
type Kind int

const (
	BufferWrite Kind = iota
	BufferFull
	BufferWriteTimeout
	BufferOverwrite
	Received
	ReceiverFull
	ReceiverTimeout
	ReceiverError
	Sent
	SendError

	numKinds
)

var kindNames = [...]string{
	BufferWrite:        "BUFFER_WRITE",
	BufferFull:         "BUFFER_FULL",
	BufferWriteTimeout: "BUFFER_WRITE_TIMEOUT",
	BufferOverwrite:    "BUFFER_OVERWRITE",
	Received:           "RECEIVED",
	ReceiverFull:       "RECEIVER_FULL",
	ReceiverTimeout:    "RECEIVER_TIMEOUT",
	ReceiverError:      "RECEIVER_ERROR",
	Sent:               "SENT",
	SendError:          "SEND_ERROR",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText lets events carry their kind by name in JSON
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Kinds returns every notification kind in declaration order
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Event describes one notification
type Event struct {
	Kind        Kind          `json:"kind"`
	ConnectorID string        `json:"connector_id"`
	Port        string        `json:"port,omitempty"`
	Payload     []byte        `json:"-"`
	Size        int           `json:"size"`
	Status      buffer.Status `json:"-"`
	StatusText  string        `json:"status"`
	Err         error         `json:"-"`
	ErrText     string        `json:"error,omitempty"`
	Time        time.Time     `json:"time"`
}

// Func is a listener callback. It must not block indefinitely.
type Func func(Event)

// Handle identifies a registered callback for removal
type Handle struct {
	kind Kind
	id   uint64
}

type entry struct {
	id uint64
	fn Func
}

// Registry holds ordered callbacks per kind
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	byKind   [numKinds][]entry
	onNotify func(Kind)
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends fn to the callbacks for kind
func (r *Registry) Add(kind Kind, fn Func) (Handle, error) {
	if kind < 0 || kind >= numKinds {
		return Handle{}, fmt.Errorf("listener: unknown kind %d", int(kind))
	}
	if fn == nil {
		return Handle{}, fmt.Errorf("listener: nil callback")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.byKind[kind] = append(r.byKind[kind], entry{id: r.nextID, fn: fn})
	return Handle{kind: kind, id: r.nextID}, nil
}

// AddAll subscribes fn to every kind and returns one handle per kind
func (r *Registry) AddAll(fn Func) ([]Handle, error) {
	handles := make([]Handle, 0, numKinds)
	for _, k := range Kinds() {
		h, err := r.Add(k, fn)
		if err != nil {
			for _, added := range handles {
				r.Remove(added)
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Remove unregisters a callback. It reports whether the handle was found.
func (r *Registry) Remove(h Handle) bool {
	if h.kind < 0 || h.kind >= numKinds {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byKind[h.kind]
	for i, e := range list {
		if e.id == h.id {
			// Copy so snapshots taken by in-flight Notify calls stay intact
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			r.byKind[h.kind] = next
			return true
		}
	}
	return false
}

// OnNotify installs a hook called once per Notify, before the callbacks.
// The daemon uses it to count notifications by kind.
func (r *Registry) OnNotify(hook func(Kind)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNotify = hook
}

// Notify invokes the callbacks for ev.Kind in registration order. The list is
// snapshotted under the lock and invoked after it is released, so callbacks may
// add or remove listeners.
func (r *Registry) Notify(ev Event) {
	if ev.Kind < 0 || ev.Kind >= numKinds {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	ev.StatusText = ev.Status.String()
	if ev.Err != nil {
		ev.ErrText = ev.Err.Error()
	}
	if ev.Size == 0 {
		ev.Size = len(ev.Payload)
	}

	r.mu.Lock()
	callbacks := r.byKind[ev.Kind]
	hook := r.onNotify
	r.mu.Unlock()

	if hook != nil {
		hook(ev.Kind)
	}
	for _, e := range callbacks {
		e.fn(ev)
	}
}

// Len returns the number of callbacks registered for kind
func (r *Registry) Len(kind Kind) int {
	if kind < 0 || kind >= numKinds {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKind[kind])
}

// Clear removes every callback
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.byKind {
		r.byKind[k] = nil
	}
}
