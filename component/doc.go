// Package component provides the component side of rtlink: named, typed ports,
// the connectors they own, and the activation state machine that gates them.
//
// # Lifecycle
//
// A component starts Created. Initialize runs the OnInitialize hook while the
// component is still Created, then registers its identity in the naming
// directory, moves it to Alive and starts any attached execution contexts. The
// hook is the place to declare ports; Port.Connect is refused until Initialize
// has returned, so connections are made afterwards. Hooks run without any
// component lock held and may call CreatePort, Port, Ports or Contexts. Finalize moves it to Finalized: it is refused
// while an attached execution context is running, and it tears down every
// connector of every port before withdrawing the identity record.
//
//	Created --Initialize--> Alive --Finalize--> Finalized
//
// Exit stops each attached context, deactivates the component in it and then
// finalizes. Operations attempted in the wrong state return an error matching
// errors.ErrPreconditionNotMet; errors.Code maps it to PRECONDITION_NOT_MET.
//
// # Ports
//
// Ports are created through PortAdmin and refer back to their owner by Handle.
// Port.Connect asks the ConnectorFactory from Dependencies for a wired, active
// connector and is only allowed while the owner is Alive. The port is the
// connector's gate, so pushes stop as soon as the owner leaves Alive.
//
//	arena := component.NewArena(deps)
//	c, _ := arena.Create("camera", component.Hooks{})
//	out, _ := c.CreatePort("image", "sensor/Image", component.DirectionSource)
//	_ = c.Initialize(ctx)
//	conn, _ := out.Connect(ctx, component.ConnectorProfile{Name: "to-viewer", Properties: props})
//
// # Execution contexts
//
// ExecutionContext is the surface of an external scheduler. The execution
// package provides a periodic implementation.
package component
