// Package execution provides a periodic execution context that drives
// component logic at a fixed rate.
package execution

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/errors"
)

// KindPeriodic is reported by Periodic.Kind
const KindPeriodic = "periodic"

// DefaultRate is used when a rate of zero is configured
const DefaultRate = 10.0

type entry struct {
	p     component.Participant
	state component.ExecState
}

// Periodic calls OnExecute on every active participant once per period
type Periodic struct {
	period time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[component.Handle]*entry
	order   []component.Handle
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ component.ExecutionContext = (*Periodic)(nil)

// NewPeriodic creates a stopped context ticking at hz
func NewPeriodic(hz float64, logger *slog.Logger) (*Periodic, error) {
	if hz < 0 {
		return nil, errors.BadParam("Periodic", "NewPeriodic", "rate must not be negative")
	}
	if hz == 0 {
		hz = DefaultRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Periodic{
		period:  time.Duration(float64(time.Second) / hz),
		logger:  logger.With("execution", KindPeriodic),
		entries: make(map[component.Handle]*entry),
	}, nil
}

// Kind returns "periodic"
func (e *Periodic) Kind() string { return KindPeriodic }

// Period returns the tick interval
func (e *Periodic) Period() time.Duration { return e.period }

// IsRunning reports whether the tick loop is active
func (e *Periodic) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start launches the tick loop
func (e *Periodic) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.Precondition("Periodic", "Start", "already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.loop(ctx, e.done)
	e.logger.Debug("Execution context started", "period", e.period)
	return nil
}

// Stop ends the tick loop and waits for the current tick to finish
func (e *Periodic) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errors.Precondition("Periodic", "Stop", "not running")
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Debug("Execution context stopped")
	return nil
}

func (e *Periodic) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Periodic) tick(ctx context.Context) {
	e.mu.Lock()
	active := make([]*entry, 0, len(e.order))
	for _, h := range e.order {
		if en := e.entries[h]; en.state == component.ExecActive {
			active = append(active, en)
		}
	}
	e.mu.Unlock()

	for _, en := range active {
		if ctx.Err() != nil {
			return
		}
		if err := en.p.OnExecute(ctx); err != nil {
			e.fail(ctx, en, err)
		}
	}
}

func (e *Periodic) fail(ctx context.Context, en *entry, err error) {
	e.mu.Lock()
	en.state = component.ExecError
	e.mu.Unlock()
	e.logger.Warn("Participant failed", "participant", en.p.Name(), "error", err)
	en.p.OnError(ctx, err)
}

// AddComponent registers p as Inactive
func (e *Periodic) AddComponent(p component.Participant) error {
	if p == nil {
		return errors.BadParam("Periodic", "AddComponent", "participant is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.entries[p.Handle()]; exists {
		return errors.BadParam("Periodic", "AddComponent", "participant "+p.Name()+" already added")
	}
	e.entries[p.Handle()] = &entry{p: p, state: component.ExecInactive}
	e.order = append(e.order, p.Handle())
	return nil
}

// RemoveComponent forgets the participant
func (e *Periodic) RemoveComponent(h component.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.entries[h]; !exists {
		return errors.BadParam("Periodic", "RemoveComponent", "unknown participant")
	}
	delete(e.entries, h)
	e.order = slices.DeleteFunc(e.order, func(x component.Handle) bool { return x == h })
	return nil
}

// ActivateComponent runs OnActivated and marks the participant Active. A
// failing hook leaves it in Error. Activating from Error resets it.
func (e *Periodic) ActivateComponent(h component.Handle) error {
	en, err := e.lookup(h, "ActivateComponent")
	if err != nil {
		return err
	}
	e.mu.Lock()
	already := en.state == component.ExecActive
	e.mu.Unlock()
	if already {
		return nil
	}

	ctx := context.Background()
	if err := en.p.OnActivated(ctx); err != nil {
		e.fail(ctx, en, err)
		return errors.Wrap(err, "Periodic", "ActivateComponent", "on_activated")
	}
	e.mu.Lock()
	en.state = component.ExecActive
	e.mu.Unlock()
	return nil
}

// DeactivateComponent runs OnDeactivated and marks the participant Inactive
func (e *Periodic) DeactivateComponent(h component.Handle) error {
	en, err := e.lookup(h, "DeactivateComponent")
	if err != nil {
		return err
	}
	e.mu.Lock()
	prev := en.state
	en.state = component.ExecInactive
	e.mu.Unlock()
	if prev != component.ExecActive {
		return nil
	}
	if err := en.p.OnDeactivated(context.Background()); err != nil {
		return errors.Wrap(err, "Periodic", "DeactivateComponent", "on_deactivated")
	}
	return nil
}

// ComponentState returns the participant's state; unknown handles are Inactive
func (e *Periodic) ComponentState(h component.Handle) component.ExecState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[h]; ok {
		return en.state
	}
	return component.ExecInactive
}

func (e *Periodic) lookup(h component.Handle, method string) (*entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[h]
	if !ok {
		return nil, errors.BadParam("Periodic", method, "unknown participant")
	}
	return en, nil
}
