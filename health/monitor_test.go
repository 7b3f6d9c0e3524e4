package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("nats", "connected")
	m.UpdateUnhealthy("naming", "bucket gone")

	s, ok := m.Get("nats")
	require.True(t, ok)
	assert.True(t, s.IsHealthy())
	assert.False(t, s.Timestamp.IsZero())

	all := m.Statuses()
	require.Len(t, all, 2)
	assert.Equal(t, "naming", all[0].Component)
	assert.Equal(t, "nats", all[1].Component)

	m.Remove("naming")
	_, ok = m.Get("naming")
	assert.False(t, ok)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.UpdateHealthy("nats", "ok")
				_ = m.Statuses()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, m.Statuses(), 1)
}

func TestReport_Build(t *testing.T) {
	r := Report{
		Components: []Status{NewHealthy("camera", "alive")},
		Checks:     []Status{NewUnhealthy("nats", "connection lost")},
	}
	s := r.Build("node")
	assert.True(t, s.IsUnhealthy())
	require.Len(t, s.SubStatuses, 2)
	assert.Equal(t, "components", s.SubStatuses[0].Component)
	assert.Equal(t, "checks", s.SubStatuses[1].Component)

	assert.True(t, Report{}.Build("node").IsHealthy())
}
