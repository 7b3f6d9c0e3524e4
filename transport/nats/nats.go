// Package nats carries connector data over NATS subjects, in the style of a
// DDS topic. The sending connector serves a bind subject; each receiving
// connector binds with its handshake header over request/reply and then reads
// frames from the topic's data subject.
package nats

import (
	"strings"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/transport"
)

// Name is the registry name of this transport
const Name = "nats"

// Protocol is the handshake protocol token
const Protocol = "NATS"

// SubjectPrefix roots every subject this transport uses
const SubjectPrefix = "rtlink"

// PropMaxFrame bounds an inbound frame
const PropMaxFrame = "max_frame"

// Subjects for one topic
type Subjects struct {
	Bind   string
	Unbind string
	Data   string
}

// SubjectsFor derives the subjects of topic. Topics may not contain NATS
// wildcards or whitespace.
func SubjectsFor(topic string) (Subjects, error) {
	if topic == "" || strings.ContainsAny(topic, "*> \t\r\n") {
		return Subjects{}, errors.BadParam("nats", "SubjectsFor", "topic "+topic+" is not a valid subject token")
	}
	t := strings.Trim(strings.ReplaceAll(topic, "/", "."), ".")
	if t == "" || strings.Contains(t, "..") {
		return Subjects{}, errors.BadParam("nats", "SubjectsFor", "topic "+topic+" has empty subject tokens")
	}
	return Subjects{
		Bind:   SubjectPrefix + ".bind." + t,
		Unbind: SubjectPrefix + ".unbind." + t,
		Data:   SubjectPrefix + ".data." + t,
	}, nil
}

// Register adds the nats factories to reg. Both sides need deps.NATS.
func Register(reg *transport.Registry) error {
	return reg.Register(Name,
		func(deps transport.Dependencies) (transport.Provider, error) {
			if deps.NATS == nil {
				return nil, errors.Precondition("nats", "NewProvider", "no NATS client configured")
			}
			return NewProvider(deps), nil
		},
		func(deps transport.Dependencies) (transport.Consumer, error) {
			if deps.NATS == nil {
				return nil, errors.Precondition("nats", "NewConsumer", "no NATS client configured")
			}
			return NewConsumer(deps), nil
		},
	)
}
