// Package transport defines the contract every wire protocol implements and the
// pieces the protocols share: the name-keyed Registry, ConnectionLink bookkeeping,
// the handshake header with its fail-closed negotiation, and length-prefixed framing.
//
// A Provider is the receive side of a connector: it accepts data from the network
// and hands each payload to a Sink, which writes it into the connector's buffer.
// A Consumer is the send side: it takes payloads from the connector and puts them
// on the wire. Adapters report link establishment and loss through an Observer so
// the connector can map them onto listener notifications.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/natsclient"
	"github.com/c360/rtlink/pkg/buffer"
)

// Payload is one serialized message. Layers that retain a payload past the call
// that handed it to them must Clone it.
type Payload []byte

// Clone returns a copy that does not alias p
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	copy(out, p)
	return out
}

// Len returns the payload size in bytes
func (p Payload) Len() int {
	return len(p)
}

// Options is what a connector tells its transport endpoint at Init
type Options struct {
	ConnectorID string
	Port        string
	Topic       string
	DataType    string
	Checksum    string
	Marshaling  string
	CallerID    string
	// Props holds the <transport>.* configuration keys with the prefix stripped
	Props map[string]string
}

// Validate checks the fields every adapter needs
func (o Options) Validate() error {
	if o.Topic == "" {
		return errors.BadParam("Options", "Validate", "topic is required")
	}
	if o.DataType == "" {
		return errors.BadParam("Options", "Validate", "data type is required")
	}
	return nil
}

// Prop returns a transport property or def when unset
func (o Options) Prop(key, def string) string {
	if v, ok := o.Props[key]; ok && v != "" {
		return v
	}
	return def
}

// PropInt parses an integer property
func (o Options) PropInt(key string, def int) (int, error) {
	v, ok := o.Props[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.BadParam("Options", "PropInt", fmt.Sprintf("%s: %v", key, err))
	}
	return n, nil
}

// PropFloat parses a float property
func (o Options) PropFloat(key string, def float64) (float64, error) {
	v, ok := o.Props[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, errors.BadParam("Options", "PropFloat", fmt.Sprintf("%s: %v", key, err))
	}
	return f, nil
}

// PropDuration parses a duration property. Bare numbers are seconds.
func (o Options) PropDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o.Props[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, errors.BadParam("Options", "PropDuration", fmt.Sprintf("%s: %v", key, err))
	}
	return d, nil
}

// ParseDuration accepts Go durations ("100ms") and float seconds ("0.1")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Header builds the local handshake header for protocol
func (o Options) Header(protocol string) Header {
	checksum := o.Checksum
	if checksum == "" {
		checksum = TypeChecksum(o.DataType)
	}
	return Header{
		DataType:   o.DataType,
		Checksum:   checksum,
		CallerID:   o.CallerID,
		Topic:      o.Topic,
		Marshaling: o.Marshaling,
		Protocol:   protocol,
	}
}

// Observer is told when links come up and go down. Implementations must not block.
type Observer interface {
	LinkUp(peer string)
	// LinkDown reports a lost or rejected link; err is nil on an orderly close
	LinkDown(peer string, err error)
}

// Sink receives inbound payloads on the provider side
type Sink interface {
	Observer
	// Deliver writes the payload into the connector buffer and returns the buffer status
	Deliver(p Payload) buffer.Status
}

// Provider is the receive-side adapter
type Provider interface {
	Init(opts Options) error
	// Connect performs the handshake and starts delivering into sink
	Connect(ctx context.Context, sink Sink) error
	Disconnect() error
	Links() []LinkStats
}

// Consumer is the send-side adapter
type Consumer interface {
	Init(opts Options) error
	// Connect makes the endpoint reachable (or reaches the peer) and reports links to obs
	Connect(ctx context.Context, obs Observer) error
	// Send writes the payload to every live link
	Send(ctx context.Context, p Payload) error
	Disconnect() error
	Links() []LinkStats
}

// Dependencies are the process-wide collaborators handed to transport factories
type Dependencies struct {
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	Directory naming.Directory
	NATS      *natsclient.Client
}

// LoggerOr returns d.Logger or slog.Default
func (d Dependencies) LoggerOr() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Up   func(peer string)
	Down func(peer string, err error)
}

func (f ObserverFuncs) LinkUp(peer string) {
	if f.Up != nil {
		f.Up(peer)
	}
}

func (f ObserverFuncs) LinkDown(peer string, err error) {
	if f.Down != nil {
		f.Down(peer, err)
	}
}

// Handshake outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeMismatch = "mismatch"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Outcome classifies a handshake result for metrics
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.IsHandshake(err) && isMismatch(err):
		return OutcomeMismatch
	case errors.IsHandshake(err):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// ObserveHandshake records the outcome and duration of a handshake started at start
func ObserveHandshake(m *metric.Metrics, transport string, start time.Time, err error) {
	outcome := Outcome(err)
	m.RecordHandshake(transport, outcome, time.Since(start))
	if err != nil {
		m.RecordError(transport, errors.Classify(err).String())
	}
}
