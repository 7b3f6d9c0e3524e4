package naming

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Directory
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-process directory
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Register stores rec
func (m *Memory) Register(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Kind == "" {
		rec.Kind = KindEndpoint
	}
	if rec.Registered.IsZero() {
		rec.Registered = time.Now()
	}

	m.mu.Lock()
	m.records[rec.Key()] = rec
	m.mu.Unlock()
	return nil
}

// Unregister removes a record
func (m *Memory) Unregister(_ context.Context, kind, name string) error {
	m.mu.Lock()
	delete(m.records, Key(kind, name))
	m.mu.Unlock()
	return nil
}

// Lookup returns a record
func (m *Memory) Lookup(_ context.Context, kind, name string) (Record, error) {
	m.mu.RLock()
	rec, ok := m.records[Key(kind, name)]
	m.mu.RUnlock()
	if !ok {
		return Record{}, notFound("Memory", kind, name)
	}
	return rec, nil
}

// List returns matching records sorted by name
func (m *Memory) List(_ context.Context, kind, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filter(m.records, kind, prefix), nil
}

func filter(records map[string]Record, kind, prefix string) []Record {
	if kind == "" {
		kind = KindEndpoint
	}
	var out []Record
	for _, rec := range records {
		if rec.Kind == kind && strings.HasPrefix(rec.Name, prefix) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
