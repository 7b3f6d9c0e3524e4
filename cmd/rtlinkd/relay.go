package main

import (
	"context"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/pkg/buffer"
)

// maxRelayBatch bounds the payloads moved per sink port per tick
const maxRelayBatch = 64

// relayHooks gives every configured component the relay behaviour. OnExecute
// only runs for components with a rate, since only those get an execution context.
func relayHooks(string) component.Hooks {
	return component.Hooks{OnExecute: relay}
}

// relay moves pending payloads from each sink port to every source port with
// the same data type
func relay(_ context.Context, c *component.Component) error {
	ports := c.Ports()
	for _, in := range ports {
		if in.Direction != component.DirectionSink {
			continue
		}
		for range maxRelayBatch {
			payload, st := in.Pull()
			if st != buffer.OK {
				break
			}
			for _, out := range ports {
				if out.Direction == component.DirectionSource && out.DataType == in.DataType {
					out.Push(payload)
				}
			}
		}
	}
	return nil
}
