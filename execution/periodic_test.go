package execution

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/errors"
)

func newComponent(t *testing.T, hooks component.Hooks) *component.Component {
	t.Helper()
	c, err := component.NewArena(component.Dependencies{}).Create("worker", hooks)
	require.NoError(t, err)
	return c
}

func TestPeriodic_ExecutesActiveParticipants(t *testing.T) {
	var ticks atomic.Int32
	c := newComponent(t, component.Hooks{
		OnExecute: func(context.Context, *component.Component) error {
			ticks.Add(1)
			return nil
		},
	})

	ec, err := NewPeriodic(200, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, ec.Period())
	require.NoError(t, c.AttachContext(ec))

	require.NoError(t, c.Initialize(context.Background()))
	assert.True(t, ec.IsRunning())
	assert.Equal(t, component.ExecInactive, ec.ComponentState(c.Handle()))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, ticks.Load())

	require.NoError(t, ec.ActivateComponent(c.Handle()))
	assert.Equal(t, component.ExecActive, ec.ComponentState(c.Handle()))
	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	err = c.Finalize(context.Background())
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))

	require.NoError(t, c.Exit(context.Background()))
	assert.False(t, ec.IsRunning())
	assert.Equal(t, component.StateFinalized, c.State())

	n := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, ticks.Load())
}

func TestPeriodic_ExecuteErrorMovesToError(t *testing.T) {
	var seen atomic.Value
	c := newComponent(t, component.Hooks{
		OnExecute: func(context.Context, *component.Component) error { return stderrors.New("sensor gone") },
		OnError: func(_ context.Context, _ *component.Component, err error) {
			seen.Store(err.Error())
		},
	})
	ec, err := NewPeriodic(500, nil)
	require.NoError(t, err)
	require.NoError(t, c.AttachContext(ec))
	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, ec.ActivateComponent(c.Handle()))

	assert.Eventually(t, func() bool {
		return ec.ComponentState(c.Handle()) == component.ExecError
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, "sensor gone", seen.Load())

	require.NoError(t, ec.Stop())
}

func TestPeriodic_ActivateHookFailure(t *testing.T) {
	c := newComponent(t, component.Hooks{
		OnActivated: func(context.Context, *component.Component) error { return stderrors.New("no device") },
	})
	ec, err := NewPeriodic(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, ec.Period())

	require.NoError(t, ec.AddComponent(c))
	require.NoError(t, c.Initialize(context.Background()))

	assert.Error(t, ec.ActivateComponent(c.Handle()))
	assert.Equal(t, component.ExecError, ec.ComponentState(c.Handle()))
}

func TestPeriodic_StartStopPreconditions(t *testing.T) {
	ec, err := NewPeriodic(100, nil)
	require.NoError(t, err)

	assert.Equal(t, errors.PreconditionNotMet, errors.Code(ec.Stop()))
	require.NoError(t, ec.Start())
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(ec.Start()))
	require.NoError(t, ec.Stop())
	assert.False(t, ec.IsRunning())

	_, err = NewPeriodic(-1, nil)
	assert.Equal(t, errors.BadParameter, errors.Code(err))
}

func TestPeriodic_Membership(t *testing.T) {
	c := newComponent(t, component.Hooks{})
	ec, err := NewPeriodic(100, nil)
	require.NoError(t, err)

	require.NoError(t, ec.AddComponent(c))
	assert.Equal(t, errors.BadParameter, errors.Code(ec.AddComponent(c)))
	require.NoError(t, ec.RemoveComponent(c.Handle()))
	assert.Equal(t, errors.BadParameter, errors.Code(ec.RemoveComponent(c.Handle())))
	assert.Equal(t, errors.BadParameter, errors.Code(ec.ActivateComponent(c.Handle())))
}
