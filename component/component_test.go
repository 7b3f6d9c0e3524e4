package component

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/connector"
	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/listener"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

type mockContext struct {
	mock.Mock
}

func (m *mockContext) Kind() string                       { return "mock" }
func (m *mockContext) IsRunning() bool                    { return m.Called().Bool(0) }
func (m *mockContext) Start() error                       { return m.Called().Error(0) }
func (m *mockContext) Stop() error                        { return m.Called().Error(0) }
func (m *mockContext) AddComponent(p Participant) error   { return m.Called(p).Error(0) }
func (m *mockContext) RemoveComponent(h Handle) error     { return m.Called(h).Error(0) }
func (m *mockContext) ActivateComponent(h Handle) error   { return m.Called(h).Error(0) }
func (m *mockContext) DeactivateComponent(h Handle) error { return m.Called(h).Error(0) }
func (m *mockContext) ComponentState(h Handle) ExecState {
	return m.Called(h).Get(0).(ExecState)
}

// localConnectors builds transport-less connectors gated by their port
func localConnectors(t *testing.T) ConnectorFactory {
	return func(ctx context.Context, port *Port, profile ConnectorProfile) (*connector.Connector, error) {
		c, err := connector.New(connector.Config{
			Port:     port.Ref(),
			DataType: port.DataType,
			Role:     connector.RoleLocal,
			Gate:     port,
		})
		if err != nil {
			return nil, err
		}
		if err := c.Configure(profile.Properties); err != nil {
			return nil, err
		}
		buf, err := c.NewBuffer()
		if err != nil {
			return nil, err
		}
		if err := c.AttachBuffer(buf); err != nil {
			return nil, err
		}
		if err := c.AttachListeners(listener.NewRegistry()); err != nil {
			return nil, err
		}
		if err := c.Activate(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newArena(t *testing.T) (*Arena, *naming.Memory) {
	dir := naming.NewMemory()
	return NewArena(Dependencies{Directory: dir, Connectors: localConnectors(t)}), dir
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "alive", StateAlive.String())
	assert.Equal(t, "finalized", StateFinalized.String())
	assert.Equal(t, "error", ExecError.String())
}

func TestFinalize_RefusedBeforeInitialize(t *testing.T) {
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)

	err = c.Finalize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))
	assert.Equal(t, StateCreated, c.State())
}

func TestInitialize_RegistersIdentity(t *testing.T) {
	ctx := context.Background()
	arena, dir := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)
	_, err = c.CreatePort("image", "sensor/Image", DirectionSource)
	require.NoError(t, err)

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, StateAlive, c.State())
	assert.True(t, c.AcceptingData())

	rec, err := dir.Lookup(ctx, naming.KindComponent, "camera")
	require.NoError(t, err)
	assert.Equal(t, "image", rec.Meta["port.0"])

	err = c.Initialize(ctx)
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))

	require.NoError(t, c.Finalize(ctx))
	_, err = dir.Lookup(ctx, naming.KindComponent, "camera")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestInitialize_HookFailureStaysCreated(t *testing.T) {
	ctx := context.Background()
	arena, dir := newArena(t)
	boom := stderrors.New("boom")
	c, err := arena.Create("camera", Hooks{
		OnInitialize: func(context.Context, *Component) error { return boom },
	})
	require.NoError(t, err)

	err = c.Initialize(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateCreated, c.State())

	_, err = dir.Lookup(ctx, naming.KindComponent, "camera")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestFinalize_HookFailureStaysAlive(t *testing.T) {
	ctx := context.Background()
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{
		OnFinalize: func(context.Context, *Component) error { return stderrors.New("busy") },
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(ctx))

	assert.Error(t, c.Finalize(ctx))
	assert.Equal(t, StateAlive, c.State())
}

func TestLifecycle_HooksManagePorts(t *testing.T) {
	ctx := context.Background()
	arena, dir := newArena(t)

	var connectErr error
	var seen []string
	c, err := arena.Create("camera", Hooks{
		OnInitialize: func(ctx context.Context, c *Component) error {
			p, err := c.CreatePort("image", "sensor/Image", DirectionSource)
			if err != nil {
				return err
			}
			// still Created while the hook runs
			_, connectErr = p.Connect(ctx, ConnectorProfile{Name: "early"})
			return nil
		},
		OnFinalize: func(_ context.Context, c *Component) error {
			for _, p := range c.Ports() {
				seen = append(seen, p.Name)
			}
			_ = c.Contexts()
			return nil
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Initialize(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize did not return")
	}
	assert.Equal(t, StateAlive, c.State())
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(connectErr))

	rec, err := dir.Lookup(ctx, naming.KindComponent, "camera")
	require.NoError(t, err)
	assert.Equal(t, "image", rec.Meta["port.0"])

	p, ok := c.Port("image")
	require.True(t, ok)
	_, err = p.Connect(ctx, ConnectorProfile{Name: "late"})
	require.NoError(t, err)

	go func() { done <- c.Finalize(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Finalize did not return")
	}
	assert.Equal(t, []string{"image"}, seen)
	assert.Equal(t, StateFinalized, c.State())
	assert.Empty(t, p.Connectors())
}

func TestInitialize_RefusedDuringTransition(t *testing.T) {
	ctx := context.Background()
	arena, _ := newArena(t)
	var nested error
	c, err := arena.Create("camera", Hooks{
		OnInitialize: func(ctx context.Context, c *Component) error {
			nested = c.Initialize(ctx)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(nested))
	assert.Equal(t, StateAlive, c.State())
}

func TestFinalize_GatedByRunningContext(t *testing.T) {
	ctx := context.Background()
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)
	out, err := c.CreatePort("image", "sensor/Image", DirectionSource)
	require.NoError(t, err)

	ec := &mockContext{}
	ec.On("AddComponent", c).Return(nil).Once()
	require.NoError(t, c.AttachContext(ec))

	ec.On("IsRunning").Return(false).Once()
	ec.On("Start").Return(nil).Once()
	require.NoError(t, c.Initialize(ctx))

	conn, err := out.Connect(ctx, ConnectorProfile{Name: "viewer", Properties: map[string]string{"buffer.length": "2"}})
	require.NoError(t, err)
	assert.Equal(t, connector.StateActive, conn.State())

	ec.On("IsRunning").Return(true).Once()
	err = c.Finalize(ctx)
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))
	assert.Equal(t, StateAlive, c.State())
	assert.Equal(t, connector.StateActive, conn.State())

	ec.On("IsRunning").Return(false).Once()
	ec.On("RemoveComponent", c.Handle()).Return(nil).Once()
	require.NoError(t, c.Finalize(ctx))

	assert.Equal(t, StateFinalized, c.State())
	assert.Equal(t, connector.StateTornDown, conn.State())
	assert.Equal(t, buffer.PreconditionNotMet, conn.Push(transport.Payload("late")))
	assert.Empty(t, out.Connectors())
	assert.Empty(t, c.Contexts())
	ec.AssertExpectations(t)
}

func TestExit_StopsDeactivatesAndFinalizes(t *testing.T) {
	ctx := context.Background()
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)

	ec := &mockContext{}
	ec.On("AddComponent", c).Return(nil)
	require.NoError(t, c.AttachContext(ec))

	// already running, so Initialize does not start it
	ec.On("IsRunning").Return(true).Once()
	require.NoError(t, c.Initialize(ctx))

	ec.On("IsRunning").Return(true).Once()
	ec.On("Stop").Return(nil).Once()
	ec.On("ComponentState", c.Handle()).Return(ExecActive).Once()
	ec.On("DeactivateComponent", c.Handle()).Return(nil).Once()
	ec.On("IsRunning").Return(false).Once()
	ec.On("RemoveComponent", c.Handle()).Return(nil).Once()

	require.NoError(t, c.Exit(ctx))
	assert.Equal(t, StateFinalized, c.State())
	ec.AssertExpectations(t)
}

func TestExit_NotAlive(t *testing.T) {
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(c.Exit(context.Background())))
}

func TestPortAdmin(t *testing.T) {
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)

	_, err = c.CreatePort("image", "sensor/Image", DirectionSource)
	require.NoError(t, err)
	_, err = c.CreatePort("cmd", "std/String", DirectionSink)
	require.NoError(t, err)

	_, err = c.CreatePort("image", "sensor/Image", DirectionSource)
	assert.Equal(t, errors.BadParameter, errors.Code(err))
	_, err = c.CreatePort("bad name", "x", DirectionSource)
	assert.Equal(t, errors.BadParameter, errors.Code(err))
	_, err = c.CreatePort("typeless", "", DirectionSource)
	assert.Equal(t, errors.BadParameter, errors.Code(err))

	names := []string{}
	for _, p := range c.Ports() {
		names = append(names, p.Name)
		assert.Equal(t, c.Handle(), p.Owner())
	}
	assert.Equal(t, []string{"image", "cmd"}, names)

	require.NoError(t, c.DeletePort("image"))
	_, ok := c.Port("image")
	assert.False(t, ok)
	assert.Equal(t, errors.BadParameter, errors.Code(c.DeletePort("image")))

	other, err := arena.Create("viewer", Hooks{})
	require.NoError(t, err)
	cmd, _ := c.Port("cmd")
	assert.Equal(t, errors.BadParameter, errors.Code(other.RegisterPort(cmd)))
}

func TestPort_ConnectRequiresAlive(t *testing.T) {
	ctx := context.Background()
	arena, _ := newArena(t)
	c, err := arena.Create("camera", Hooks{})
	require.NoError(t, err)
	out, err := c.CreatePort("image", "sensor/Image", DirectionSource)
	require.NoError(t, err)

	_, err = out.Connect(ctx, ConnectorProfile{Name: "early"})
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))

	detached, err := NewPort("loose", "x", DirectionSource)
	require.NoError(t, err)
	_, err = detached.Connect(ctx, ConnectorProfile{Name: "x"})
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))
}

func TestPort_PushFanOutAndPull(t *testing.T) {
	ctx := context.Background()
	arena, _ := newArena(t)
	c, err := arena.Create("relay", Hooks{})
	require.NoError(t, err)
	out, err := c.CreatePort("out", "std/String", DirectionSource)
	require.NoError(t, err)
	in, err := c.CreatePort("in", "std/String", DirectionSink)
	require.NoError(t, err)

	assert.Equal(t, buffer.PreconditionNotMet, out.Push(transport.Payload("x")))
	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, buffer.PreconditionNotMet, out.Push(transport.Payload("x")))

	a, err := out.Connect(ctx, ConnectorProfile{Name: "a", Properties: map[string]string{"buffer.length": "1"}})
	require.NoError(t, err)
	b, err := out.Connect(ctx, ConnectorProfile{Name: "b", Properties: map[string]string{"buffer.length": "2"}})
	require.NoError(t, err)

	assert.Equal(t, buffer.OK, out.Push(transport.Payload("1")))
	assert.Equal(t, 1, a.Buffer().Size())
	assert.Equal(t, 1, b.Buffer().Size())

	// a is full and does not overwrite, b still accepts
	assert.Equal(t, buffer.Full, out.Push(transport.Payload("2")))
	assert.Equal(t, 2, b.Buffer().Size())

	_, st := out.Pull()
	assert.Equal(t, buffer.PreconditionNotMet, st)

	first, err := in.Connect(ctx, ConnectorProfile{Name: "first"})
	require.NoError(t, err)
	second, err := in.Connect(ctx, ConnectorProfile{Name: "second"})
	require.NoError(t, err)

	_, st = in.Pull()
	assert.Equal(t, buffer.Empty, st)

	require.Equal(t, buffer.OK, second.Push(transport.Payload("s")))
	require.Equal(t, buffer.OK, first.Push(transport.Payload("f")))
	p, st := in.Pull()
	assert.Equal(t, buffer.OK, st)
	assert.Equal(t, "f", string(p))
	p, _ = in.Pull()
	assert.Equal(t, "s", string(p))

	require.NoError(t, in.Disconnect(first.ID()))
	assert.Equal(t, connector.StateTornDown, first.State())
	_, ok := in.Connector(first.ID())
	assert.False(t, ok)
	assert.Equal(t, errors.BadParameter, errors.Code(in.Disconnect(first.ID())))
}

func TestArena(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	arena := NewArena(Dependencies{Metrics: reg.CoreMetrics(), Connectors: localConnectors(t)})

	a, err := arena.Create("a", Hooks{})
	require.NoError(t, err)
	b, err := arena.Create("b", Hooks{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Handle(), b.Handle())

	_, err = arena.Create("a", Hooks{})
	assert.Equal(t, errors.BadParameter, errors.Code(err))
	_, err = arena.Create("", Hooks{})
	assert.Equal(t, errors.BadParameter, errors.Code(err))

	got, ok := arena.Get(b.Handle())
	require.True(t, ok)
	assert.Same(t, b, got)
	got, ok = arena.Lookup("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, float64(StateAlive), testutil.ToFloat64(reg.CoreMetrics().ComponentState.WithLabelValues("a")))
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(arena.Remove(a.Handle())))
	require.NoError(t, arena.Remove(b.Handle()))

	list := arena.List()
	require.Len(t, list, 1)
	assert.Same(t, a, list[0])
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("out")
	require.NoError(t, err)
	assert.Equal(t, DirectionSource, d)
	assert.Equal(t, connector.RoleConsumer, d.Role())

	d, err = ParseDirection("sink")
	require.NoError(t, err)
	assert.Equal(t, connector.RoleProvider, d.Role())

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
