package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds statuses pushed by parts that report asynchronously, such as
// the broker connection. It is safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records the status for name
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy records name as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy records name as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status recorded for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove forgets name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Statuses returns the recorded statuses sorted by name
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Report groups the statuses of a node. Empty groups are omitted.
type Report struct {
	Components  []Status
	Connections []Status
	Checks      []Status
}

// Build aggregates the report into a node status with one sub-status per group
func (r Report) Build(node string) Status {
	var groups []Status
	if len(r.Components) > 0 {
		groups = append(groups, Aggregate("components", r.Components))
	}
	if len(r.Connections) > 0 {
		groups = append(groups, Aggregate("connections", r.Connections))
	}
	if len(r.Checks) > 0 {
		groups = append(groups, Aggregate("checks", r.Checks))
	}
	return Aggregate(node, groups)
}
