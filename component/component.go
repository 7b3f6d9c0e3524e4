package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
)

// Handle is a stable arena index for a component
type Handle uint64

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Component composes the lifecycle, port administration and execution binding
// capabilities. Ports refer back to it by handle.
type Component struct {
	handle    Handle
	name      string
	hooks     Hooks
	logger    *slog.Logger
	metrics   *metric.Metrics
	directory naming.Directory
	newConn   ConnectorFactory

	// mu guards ports, contexts and the transition flag. It is never held
	// while a user hook runs.
	mu            sync.Mutex
	transitioning bool
	state         atomic.Int32
	ports     map[string]*Port
	portOrder []string
	contexts  []ExecutionContext
}

var (
	_ Lifecycle        = (*Component)(nil)
	_ PortAdmin        = (*Component)(nil)
	_ ExecutionBinding = (*Component)(nil)
	_ Participant      = (*Component)(nil)
)

func newComponent(h Handle, name string, hooks Hooks, deps Dependencies) *Component {
	return &Component{
		handle:    h,
		name:      name,
		hooks:     hooks,
		logger:    deps.GetLoggerWithComponent(name),
		metrics:   deps.Metrics,
		directory: deps.Directory,
		newConn:   deps.Connectors,
		ports:     make(map[string]*Port),
	}
}

// Handle returns the arena handle
func (c *Component) Handle() Handle { return c.handle }

// Name returns the instance name
func (c *Component) Name() string { return c.name }

func (c *Component) factory() ConnectorFactory { return c.newConn }

func (c *Component) log() *slog.Logger { return c.logger }

// State returns the lifecycle state
func (c *Component) State() State { return State(c.state.Load()) }

// AcceptingData reports whether ports may carry data
func (c *Component) AcceptingData() bool { return c.State() == StateAlive }

func (c *Component) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.RecordComponentState(c.name, int(s))
}

// identityLocked builds the directory record; c.mu must be held
func (c *Component) identityLocked() naming.Record {
	meta := map[string]string{"handle": strconv.FormatUint(uint64(c.handle), 10)}
	for i, p := range c.portOrder {
		meta[fmt.Sprintf("port.%d", i)] = p
	}
	return naming.Record{Name: c.name, Kind: naming.KindComponent, Owner: c.name, Meta: meta}
}

// beginTransition claims the lifecycle for one transition out of from.
// c.mu must be held.
func (c *Component) beginTransition(method string, from State) error {
	if c.transitioning {
		return errors.Precondition("Component", method, "another lifecycle transition is in progress")
	}
	if s := c.State(); s != from {
		return errors.Precondition("Component", method, "component is "+s.String())
	}
	c.transitioning = true
	return nil
}

// Initialize moves Created to Alive. The OnInitialize hook runs first, while
// the component is still Created, so it may declare ports but not connect
// them. On failure the state stays Created and the error is returned. The
// identity record is registered and attached execution contexts are started
// on success.
func (c *Component) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if err := c.beginTransition("Initialize", StateCreated); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if c.hooks.OnInitialize != nil {
		if err := c.hooks.OnInitialize(ctx, c); err != nil {
			c.endTransition()
			return errors.Wrap(err, "Component", "Initialize", "on_initialize")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.transitioning = false }()

	if c.directory != nil {
		if err := c.directory.Register(ctx, c.identityLocked()); err != nil {
			return errors.Wrap(err, "Component", "Initialize", "register identity")
		}
	}

	c.setState(StateAlive)
	c.logger.Info("Component initialized", "ports", len(c.ports), "contexts", len(c.contexts))

	for _, ec := range c.contexts {
		if ec.IsRunning() {
			continue
		}
		if err := ec.Start(); err != nil {
			c.logger.Warn("Execution context failed to start", "kind", ec.Kind(), "error", err)
		}
	}
	return nil
}

func (c *Component) endTransition() {
	c.mu.Lock()
	c.transitioning = false
	c.mu.Unlock()
}

func (c *Component) runningContextLocked() (ExecutionContext, bool) {
	for _, ec := range c.contexts {
		if ec.IsRunning() {
			return ec, true
		}
	}
	return nil, false
}

// Finalize moves Alive to Finalized. It is refused while any attached execution
// context is running. Every port's connectors are torn down and the identity
// record is withdrawn.
func (c *Component) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if err := c.beginTransition("Finalize", StateAlive); err != nil {
		c.mu.Unlock()
		return err
	}
	if ec, running := c.runningContextLocked(); running {
		c.transitioning = false
		c.mu.Unlock()
		return errors.Precondition("Component", "Finalize", "execution context "+ec.Kind()+" is running")
	}
	c.mu.Unlock()

	if c.hooks.OnFinalize != nil {
		if err := c.hooks.OnFinalize(ctx, c); err != nil {
			c.endTransition()
			return errors.Wrap(err, "Component", "Finalize", "on_finalize")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.transitioning = false }()

	// the hook ran unlocked and may have started a context
	if ec, running := c.runningContextLocked(); running {
		return errors.Precondition("Component", "Finalize", "execution context "+ec.Kind()+" is running")
	}

	// Stop accepting data before tearing connectors down
	c.setState(StateFinalized)

	var errs []error
	if err := c.finalizePortsLocked(); err != nil {
		errs = append(errs, err)
	}
	for _, ec := range c.contexts {
		if err := ec.RemoveComponent(c.handle); err != nil {
			errs = append(errs, errors.Wrap(err, "Component", "Finalize", "detach "+ec.Kind()))
		}
	}
	c.contexts = nil
	c.withdraw(ctx)

	c.logger.Info("Component finalized")
	if len(errs) > 0 {
		c.logger.Warn("Finalize released resources with errors", "error", stderrors.Join(errs...))
	}
	return nil
}

func (c *Component) withdraw(ctx context.Context) {
	if c.directory == nil {
		return
	}
	if err := c.directory.Unregister(ctx, naming.KindComponent, c.name); err != nil {
		c.logger.Warn("Failed to withdraw identity", "error", err)
	}
}

// Exit stops every attached execution context, deactivates the component in
// each, then finalizes.
func (c *Component) Exit(ctx context.Context) error {
	if s := c.State(); s != StateAlive {
		return errors.Precondition("Component", "Exit", "component is "+s.String())
	}

	var errs []error
	for _, ec := range c.Contexts() {
		if ec.IsRunning() {
			if err := ec.Stop(); err != nil {
				errs = append(errs, errors.Wrap(err, "Component", "Exit", "stop "+ec.Kind()))
			}
		}
		if ec.ComponentState(c.handle) != ExecInactive {
			if err := ec.DeactivateComponent(c.handle); err != nil {
				errs = append(errs, errors.Wrap(err, "Component", "Exit", "deactivate in "+ec.Kind()))
			}
		}
	}
	if len(errs) > 0 {
		c.logger.Warn("Exit could not stop every context", "error", stderrors.Join(errs...))
	}
	return c.Finalize(ctx)
}

// AttachContext binds the component to ec
func (c *Component) AttachContext(ec ExecutionContext) error {
	if ec == nil {
		return errors.BadParam("Component", "AttachContext", "execution context is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateFinalized {
		return errors.Precondition("Component", "AttachContext", "component is finalized")
	}
	if slices.Contains(c.contexts, ec) {
		return nil
	}
	if err := ec.AddComponent(c); err != nil {
		return errors.Wrap(err, "Component", "AttachContext", "add to "+ec.Kind())
	}
	c.contexts = append(c.contexts, ec)
	return nil
}

// DetachContext unbinds the component from ec
func (c *Component) DetachContext(ec ExecutionContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.Index(c.contexts, ec)
	if i < 0 {
		return errors.BadParam("Component", "DetachContext", "context not attached")
	}
	if ec.IsRunning() && ec.ComponentState(c.handle) == ExecActive {
		return errors.Precondition("Component", "DetachContext", "component is active in a running context")
	}
	if err := ec.RemoveComponent(c.handle); err != nil {
		return errors.Wrap(err, "Component", "DetachContext", "remove from "+ec.Kind())
	}
	c.contexts = slices.Delete(c.contexts, i, i+1)
	return nil
}

// Contexts returns the attached execution contexts
func (c *Component) Contexts() []ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.contexts)
}

// OnActivated runs the user hook when an execution context activates the component
func (c *Component) OnActivated(ctx context.Context) error {
	if !c.AcceptingData() {
		return errors.Precondition("Component", "OnActivated", "component is "+c.State().String())
	}
	if c.hooks.OnActivated != nil {
		return c.hooks.OnActivated(ctx, c)
	}
	return nil
}

// OnDeactivated runs the user hook when an execution context deactivates the component
func (c *Component) OnDeactivated(ctx context.Context) error {
	if c.hooks.OnDeactivated != nil {
		return c.hooks.OnDeactivated(ctx, c)
	}
	return nil
}

// OnExecute runs one step of user logic
func (c *Component) OnExecute(ctx context.Context) error {
	if c.hooks.OnExecute != nil {
		return c.hooks.OnExecute(ctx, c)
	}
	return nil
}

// OnError is told when an execution context moves the component to Error
func (c *Component) OnError(ctx context.Context, err error) {
	c.logger.Error("Component entered error state", "error", err)
	if c.hooks.OnError != nil {
		c.hooks.OnError(ctx, c, err)
	}
}

// CreatePort builds a port and registers it with the component
func (c *Component) CreatePort(name, dataType string, dir Direction) (*Port, error) {
	p, err := NewPort(name, dataType, dir)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterPort(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterPort adds p to the component. Names are unique per component.
func (c *Component) RegisterPort(p *Port) error {
	if p == nil {
		return errors.BadParam("Component", "RegisterPort", "port is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateFinalized {
		return errors.Precondition("Component", "RegisterPort", "component is finalized")
	}
	if _, exists := c.ports[p.Name]; exists {
		return errors.BadParam("Component", "RegisterPort", "duplicate port name "+p.Name)
	}
	if err := p.bind(c); err != nil {
		return err
	}
	c.ports[p.Name] = p
	c.portOrder = append(c.portOrder, p.Name)
	c.logger.Debug("Port registered", "port", p.Name, "direction", p.Direction, "data_type", p.DataType)
	return nil
}

// DeletePort tears down the port's connectors and removes it
func (c *Component) DeletePort(name string) error {
	c.mu.Lock()
	p, ok := c.ports[name]
	if !ok {
		c.mu.Unlock()
		return errors.BadParam("Component", "DeletePort", "unknown port "+name)
	}
	delete(c.ports, name)
	c.portOrder = slices.DeleteFunc(c.portOrder, func(n string) bool { return n == name })
	c.mu.Unlock()

	return p.teardown()
}

// FinalizePorts tears down every connector of every port. The ports stay
// registered.
func (c *Component) FinalizePorts() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizePortsLocked()
}

func (c *Component) finalizePortsLocked() error {
	var errs []error
	for _, name := range c.portOrder {
		if err := c.ports[name].teardown(); err != nil {
			errs = append(errs, errors.Wrap(err, "Component", "FinalizePorts", "teardown port "+name))
		}
	}
	return stderrors.Join(errs...)
}

// Port returns the port called name
func (c *Component) Port(name string) (*Port, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[name]
	return p, ok
}

// Ports returns the ports in registration order
func (c *Component) Ports() []*Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Port, 0, len(c.portOrder))
	for _, name := range c.portOrder {
		out = append(out, c.ports[name])
	}
	return out
}
