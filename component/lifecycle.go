package component

import (
	"context"
)

// State represents the lifecycle state of a component
type State int

const (
	// StateCreated indicates the component exists but was never initialized
	StateCreated State = iota
	// StateAlive indicates the component is initialized and its ports may carry data
	StateAlive
	// StateFinalized is terminal
	StateFinalized
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAlive:
		return "alive"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ExecState is the per-context state of a component while Alive
type ExecState int

const (
	ExecInactive ExecState = iota
	ExecActive
	ExecError
)

// String returns a string representation of the execution state
func (s ExecState) String() string {
	switch s {
	case ExecInactive:
		return "inactive"
	case ExecActive:
		return "active"
	case ExecError:
		return "error"
	default:
		return "unknown"
	}
}

// Lifecycle is the activation surface exposed to an activation layer
type Lifecycle interface {
	Initialize(ctx context.Context) error
	Finalize(ctx context.Context) error
	Exit(ctx context.Context) error
	State() State
}

// PortAdmin manages a component's ports
type PortAdmin interface {
	CreatePort(name, dataType string, dir Direction) (*Port, error)
	RegisterPort(p *Port) error
	DeletePort(name string) error
	FinalizePorts() error
	Port(name string) (*Port, bool)
	Ports() []*Port
}

// ExecutionBinding attaches a component to the contexts that drive it
type ExecutionBinding interface {
	AttachContext(ec ExecutionContext) error
	DetachContext(ec ExecutionContext) error
	Contexts() []ExecutionContext
}

// Participant is what an execution context drives
type Participant interface {
	Handle() Handle
	Name() string
	OnActivated(ctx context.Context) error
	OnDeactivated(ctx context.Context) error
	OnExecute(ctx context.Context) error
	OnError(ctx context.Context, err error)
}

// ExecutionContext schedules participants. Implementations live outside this
// package; the lifecycle only needs this surface.
type ExecutionContext interface {
	Kind() string
	IsRunning() bool
	Start() error
	Stop() error
	AddComponent(p Participant) error
	RemoveComponent(h Handle) error
	ActivateComponent(h Handle) error
	DeactivateComponent(h Handle) error
	ComponentState(h Handle) ExecState
}

// Hooks are user callbacks. Nil hooks are skipped.
type Hooks struct {
	OnInitialize  func(ctx context.Context, c *Component) error
	OnFinalize    func(ctx context.Context, c *Component) error
	OnActivated   func(ctx context.Context, c *Component) error
	OnDeactivated func(ctx context.Context, c *Component) error
	OnExecute     func(ctx context.Context, c *Component) error
	OnError       func(ctx context.Context, c *Component, err error)
}
