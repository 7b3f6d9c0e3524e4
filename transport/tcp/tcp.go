// Package tcp implements a point-to-point TCP transport with a TCPROS style
// connection header. The sending connector listens and announces its address;
// each receiving connector dials it, exchanges headers and then reads
// length-prefixed frames until either end goes away.
package tcp

import (
	"time"

	"github.com/c360/rtlink/transport"
)

// Name is the registry name of this transport
const Name = "tcp"

// Protocol is the handshake protocol token
const Protocol = "TCPROS"

// Property keys, read from the tcp.* connector options
const (
	PropBind             = "bind"
	PropAddress          = "address"
	PropMaxFrame         = "max_frame"
	PropDialTimeout      = "dial_timeout"
	PropHandshakeTimeout = "handshake_timeout"
	PropWriteTimeout     = "write_timeout"
	PropHandshakeWorkers = "handshake_workers"
	PropHandshakeRate    = "handshake_rate"
)

// Defaults for unset properties
const (
	DefaultBind             = "127.0.0.1:0"
	DefaultDialTimeout      = 2 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeWorkers = 4
	DefaultHandshakeRate    = 100.0
)

type settings struct {
	bind             string
	address          string
	maxFrame         int
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	workers          int
	rate             float64
}

func parseSettings(opts transport.Options) (settings, error) {
	s := settings{
		bind:    opts.Prop(PropBind, DefaultBind),
		address: opts.Prop(PropAddress, ""),
	}
	var err error
	if s.maxFrame, err = opts.PropInt(PropMaxFrame, transport.DefaultMaxFrame); err != nil {
		return s, err
	}
	if s.dialTimeout, err = opts.PropDuration(PropDialTimeout, DefaultDialTimeout); err != nil {
		return s, err
	}
	if s.handshakeTimeout, err = opts.PropDuration(PropHandshakeTimeout, DefaultHandshakeTimeout); err != nil {
		return s, err
	}
	if s.writeTimeout, err = opts.PropDuration(PropWriteTimeout, DefaultWriteTimeout); err != nil {
		return s, err
	}
	if s.workers, err = opts.PropInt(PropHandshakeWorkers, DefaultHandshakeWorkers); err != nil {
		return s, err
	}
	if s.rate, err = opts.PropFloat(PropHandshakeRate, DefaultHandshakeRate); err != nil {
		return s, err
	}
	if s.maxFrame <= 0 {
		s.maxFrame = transport.DefaultMaxFrame
	}
	return s, nil
}

// Register adds the tcp factories to reg
func Register(reg *transport.Registry) error {
	return reg.Register(Name,
		func(deps transport.Dependencies) (transport.Provider, error) { return NewProvider(deps), nil },
		func(deps transport.Dependencies) (transport.Consumer, error) { return NewConsumer(deps), nil },
	)
}
