package manager

import (
	"context"
	"sort"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/config"
	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/execution"
)

// HooksFunc supplies the behaviour of a configured component. Returning zero
// Hooks gives a component that only moves data through its ports.
type HooksFunc func(name string) component.Hooks

// Deploy creates the configured components with their ports, attaches a
// periodic execution context to components with a rate, initializes and
// activates them, then establishes the configured connections. On error the
// caller is expected to Shutdown.
func (m *Manager) Deploy(ctx context.Context, cfg *config.Config, hooks HooksFunc) error {
	if cfg == nil {
		return errors.BadParam("Manager", "Deploy", "config is nil")
	}
	if hooks == nil {
		hooks = func(string) component.Hooks { return component.Hooks{} }
	}

	names := make([]string, 0, len(cfg.Components))
	for name := range cfg.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.deployComponent(ctx, name, cfg.Components[name], hooks(name)); err != nil {
			return err
		}
	}

	for _, cc := range cfg.Connections {
		if _, err := m.Connect(ctx, SpecFromConfig(cc)); err != nil {
			return errors.Wrap(err, "Manager", "Deploy", "connect "+cc.Name)
		}
	}
	return nil
}

func (m *Manager) deployComponent(ctx context.Context, name string, cc config.ComponentConfig, hooks component.Hooks) error {
	comp, err := m.CreateComponent(name, hooks)
	if err != nil {
		return err
	}
	for _, pc := range cc.Ports {
		dir, err := component.ParseDirection(pc.Direction)
		if err != nil {
			return err
		}
		if _, err := comp.CreatePort(pc.Name, pc.DataType, dir); err != nil {
			return errors.Wrap(err, "Manager", "Deploy", "create port "+name+"."+pc.Name)
		}
	}

	var ec *execution.Periodic
	if cc.Rate > 0 {
		ec, err = execution.NewPeriodic(cc.Rate, m.logger.With("component", name))
		if err != nil {
			return err
		}
		if err := comp.AttachContext(ec); err != nil {
			return err
		}
	}

	if err := comp.Initialize(ctx); err != nil {
		return errors.Wrap(err, "Manager", "Deploy", "initialize "+name)
	}
	if ec != nil {
		if err := ec.ActivateComponent(comp.Handle()); err != nil {
			return errors.Wrap(err, "Manager", "Deploy", "activate "+name)
		}
	}
	m.logger.Debug("Component deployed", "component", name, "ports", len(cc.Ports), "rate", cc.Rate)
	return nil
}
