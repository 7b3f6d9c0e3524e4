package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/component"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("node", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == StateHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestWithDetail_Copies(t *testing.T) {
	base := NewHealthy("a", "").WithDetail("k", "1")
	changed := base.WithDetail("k", "2")
	assert.Equal(t, "1", base.Details["k"])
	assert.Equal(t, "2", changed.Details["k"])
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"dial tcp 10.0.0.7:7400: connection refused", "dial tcp [ADDR]: connection refused"},
		{"connect nats://user@broker:4222 failed", "connect [URL] failed"},
		{"open /etc/rtlink/node.yaml: denied", "open [PATH]: denied"},
		{"auth failed token=abc123", "auth failed [REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeErrorMessage(tt.in), tt.in)
	}
}

func TestFromComponent(t *testing.T) {
	arena := component.NewArena(component.Dependencies{})
	c, err := arena.Create("camera", component.Hooks{})
	require.NoError(t, err)
	_, err = c.CreatePort("image", "sensor/Image", component.DirectionSource)
	require.NoError(t, err)

	s := FromComponent(c)
	assert.True(t, s.IsDegraded())
	assert.Equal(t, "1", s.Details["ports"])

	require.NoError(t, c.Initialize(context.Background()))
	assert.True(t, FromComponent(c).IsHealthy())

	require.NoError(t, c.Exit(context.Background()))
	assert.True(t, FromComponent(c).IsUnhealthy())
}
