package transport

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/rtlink/errors"
)

// ProviderFactory builds a receive-side adapter
type ProviderFactory func(deps Dependencies) (Provider, error)

// ConsumerFactory builds a send-side adapter
type ConsumerFactory func(deps Dependencies) (Consumer, error)

type factories struct {
	provider ProviderFactory
	consumer ConsumerFactory
}

// Registry maps transport names to factories. The mutex guards the map only;
// factories run without it held.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]factories
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]factories)}
}

// Register installs the factories for name, replacing any earlier registration.
// A transport may offer only one role; the other factory is then nil.
func (r *Registry) Register(name string, pf ProviderFactory, cf ConsumerFactory) error {
	if name == "" {
		return errors.BadParam("Registry", "Register", "transport name is required")
	}
	if pf == nil && cf == nil {
		return errors.BadParam("Registry", "Register", fmt.Sprintf("transport %s offers no role", name))
	}

	r.mu.Lock()
	r.entries[name] = factories{provider: pf, consumer: cf}
	r.mu.Unlock()
	return nil
}

// Unregister removes name and reports whether it was present
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

func (r *Registry) lookup(name string) (factories, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.entries[name]
	return f, ok
}

func unknown(method, name, role string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %q (%s)", errors.ErrUnknownTransport, name, role),
		"Registry", method, "lookup")
}

func decorate(deps Dependencies, name string) Dependencies {
	deps.Logger = deps.LoggerOr().With("transport", name)
	return deps
}

// CreateProvider builds a provider for name. Unknown names, and transports
// without a provider role, return ErrUnknownTransport.
func (r *Registry) CreateProvider(name string, deps Dependencies) (Provider, error) {
	f, ok := r.lookup(name)
	if !ok || f.provider == nil {
		return nil, unknown("CreateProvider", name, "provider")
	}
	p, err := f.provider(decorate(deps, name))
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateProvider", name)
	}
	return p, nil
}

// CreateConsumer builds a consumer for name
func (r *Registry) CreateConsumer(name string, deps Dependencies) (Consumer, error) {
	f, ok := r.lookup(name)
	if !ok || f.consumer == nil {
		return nil, unknown("CreateConsumer", name, "consumer")
	}
	c, err := f.consumer(decorate(deps, name))
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateConsumer", name)
	}
	return c, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
