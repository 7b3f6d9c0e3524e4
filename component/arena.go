package component

import (
	"slices"
	"sync"

	"github.com/c360/rtlink/errors"
)

// Arena owns components and hands out stable handles. Ports and connectors
// refer back to their owner by handle only.
type Arena struct {
	mu     sync.RWMutex
	next   Handle
	byID   map[Handle]*Component
	byName map[string]Handle
	deps   Dependencies
}

// NewArena creates an arena whose components share deps
func NewArena(deps Dependencies) *Arena {
	return &Arena{
		byID:   make(map[Handle]*Component),
		byName: make(map[string]Handle),
		deps:   deps,
	}
}

// Create allocates a component in state Created
func (a *Arena) Create(name string, hooks Hooks) (*Component, error) {
	if !validName.MatchString(name) {
		return nil, errors.BadParam("Arena", "Create", "invalid component name "+name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byName[name]; exists {
		return nil, errors.BadParam("Arena", "Create", "duplicate component name "+name)
	}
	a.next++
	c := newComponent(a.next, name, hooks, a.deps)
	a.byID[c.handle] = c
	a.byName[name] = c.handle
	a.deps.Metrics.RecordComponentState(name, int(StateCreated))
	return c, nil
}

// Get returns the component with handle h
func (a *Arena) Get(h Handle) (*Component, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.byID[h]
	return c, ok
}

// Lookup returns the component called name
func (a *Arena) Lookup(name string) (*Component, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.byName[name]
	if !ok {
		return nil, false
	}
	return a.byID[h], true
}

// Remove drops a component that is not Alive
func (a *Arena) Remove(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.byID[h]
	if !ok {
		return errors.BadParam("Arena", "Remove", "unknown handle")
	}
	if c.State() == StateAlive {
		return errors.Precondition("Arena", "Remove", "component "+c.name+" is alive")
	}
	delete(a.byID, h)
	delete(a.byName, c.name)
	return nil
}

// List returns every component ordered by handle
func (a *Arena) List() []*Component {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Component, 0, len(a.byID))
	for _, c := range a.byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(x, y *Component) int {
		switch {
		case x.handle < y.handle:
			return -1
		case x.handle > y.handle:
			return 1
		}
		return 0
	})
	return out
}
