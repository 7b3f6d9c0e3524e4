package connector

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/listener"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []listener.Event
}

func (r *recorder) record(ev listener.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []listener.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]listener.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) last() listener.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// newWired builds a connector with a buffer from options and a recording registry
func newWired(t *testing.T, cfg Config, options map[string]string) (*Connector, *recorder) {
	t.Helper()
	if cfg.Port.Port == "" {
		cfg.Port = PortRef{Component: 1, Port: "out"}
	}
	if cfg.DataType == "" {
		cfg.DataType = "TimedLong"
	}
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Configure(options))

	buf, err := c.NewBuffer()
	require.NoError(t, err)
	require.NoError(t, c.AttachBuffer(buf))

	rec := &recorder{}
	reg := listener.NewRegistry()
	_, err = reg.AddAll(rec.record)
	require.NoError(t, err)
	require.NoError(t, c.AttachListeners(reg))
	return c, rec
}

func TestPush_FullWithoutOverwrite(t *testing.T) {
	c, rec := newWired(t, Config{}, map[string]string{"buffer.length": "1", "buffer.overwrite": "false"})

	assert.Equal(t, buffer.OK, c.Push(transport.Payload("X")))
	assert.Equal(t, []listener.Kind{listener.BufferWrite}, rec.kinds())

	rec.reset()
	assert.Equal(t, buffer.Full, c.Push(transport.Payload("Y")))
	assert.Equal(t, []listener.Kind{listener.BufferFull, listener.ReceiverFull}, rec.kinds())
	assert.Equal(t, 1, c.Buffer().Size())

	rec.reset()
	p, st := c.Pull()
	assert.Equal(t, buffer.OK, st)
	assert.Equal(t, "X", string(p))

	_, st = c.Pull()
	assert.Equal(t, buffer.Empty, st)
	assert.Empty(t, rec.kinds())
}

func TestPush_OverwriteDropsOldest(t *testing.T) {
	c, rec := newWired(t, Config{}, map[string]string{"buffer.length": "1", "buffer.overwrite": "true"})

	assert.Equal(t, buffer.OK, c.Push(transport.Payload("X")))
	rec.reset()
	assert.Equal(t, buffer.OK, c.Push(transport.Payload("Y")))
	assert.Equal(t, []listener.Kind{listener.BufferOverwrite, listener.BufferWrite}, rec.kinds())

	p, st := c.Pull()
	assert.Equal(t, buffer.OK, st)
	assert.Equal(t, "Y", string(p))
}

func TestPush_BlockTimeout(t *testing.T) {
	c, rec := newWired(t, Config{}, map[string]string{"length": "1", "write.timeout": "0.05"})
	assert.Equal(t, buffer.Block, c.Options().Policy())

	require.Equal(t, buffer.OK, c.Push(transport.Payload("X")))
	rec.reset()

	start := time.Now()
	assert.Equal(t, buffer.Timeout, c.Push(transport.Payload("Y")))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, []listener.Kind{listener.BufferWriteTimeout, listener.ReceiverTimeout}, rec.kinds())
}

func TestPush_OccupancyNeverExceedsCapacity(t *testing.T) {
	for _, overwrite := range []string{"true", "false"} {
		c, _ := newWired(t, Config{}, map[string]string{"buffer.length": "3", "overwrite": overwrite})
		for i := 0; i < 20; i++ {
			c.Push(transport.Payload{byte(i)})
			assert.LessOrEqual(t, c.Buffer().Size(), 3)
			if i%4 == 0 {
				c.Pull()
			}
		}
	}
}

func TestPush_FIFO(t *testing.T) {
	c, _ := newWired(t, Config{}, map[string]string{"buffer.length": "16"})
	for i := 0; i < 10; i++ {
		require.Equal(t, buffer.OK, c.Push(transport.Payload{byte(i)}))
	}
	for i := 0; i < 10; i++ {
		p, st := c.Pull()
		require.Equal(t, buffer.OK, st)
		assert.Equal(t, byte(i), p[0])
	}
}

func TestPush_CopiesPayload(t *testing.T) {
	c, _ := newWired(t, Config{}, nil)
	p := transport.Payload("abc")
	c.Push(p)
	p[0] = 'z'
	got, _ := c.Pull()
	assert.Equal(t, "abc", string(got))
}

func TestPush_GateClosed(t *testing.T) {
	var open atomic.Bool
	c, rec := newWired(t, Config{Gate: GateFunc(open.Load)}, nil)

	assert.Equal(t, buffer.PreconditionNotMet, c.Push(transport.Payload("X")))
	assert.Equal(t, []listener.Kind{listener.ReceiverError}, rec.kinds())

	open.Store(true)
	assert.Equal(t, buffer.OK, c.Push(transport.Payload("X")))
}

func TestTeardown_Idempotent(t *testing.T) {
	reg := transport.NewRegistry()
	fp := &fakeProvider{}
	require.NoError(t, reg.Register("fake", func(transport.Dependencies) (transport.Provider, error) { return fp, nil }, nil))

	c, rec := newWired(t, Config{Role: RoleProvider, Registry: reg},
		map[string]string{"interface_type": "fake", "topic": "chatter"})
	require.NoError(t, c.Activate(context.Background()))
	buf := c.Buffer()

	require.NoError(t, c.Teardown())
	require.NoError(t, c.Teardown())

	assert.EqualValues(t, 1, fp.disconnects.Load())
	assert.Equal(t, StateTornDown, c.State())
	assert.Nil(t, c.Buffer())
	assert.Nil(t, c.Listeners())

	// the buffer was closed, not just dropped
	assert.Equal(t, buffer.PreconditionNotMet, buf.Write(transport.Payload("x")))

	rec.reset()
	_, st := c.Pull()
	assert.Equal(t, buffer.PreconditionNotMet, st)
	assert.Empty(t, rec.kinds(), "listener references are released by teardown")

	assert.Equal(t, errors.PreconditionNotMet, errors.Code(c.Activate(context.Background())))
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(c.Configure(map[string]string{"topic": "x"})))
}

func TestTeardown_WakesBlockedPush(t *testing.T) {
	c, _ := newWired(t, Config{}, map[string]string{"buffer.length": "1", "buffer.write.full_policy": "block", "buffer.write.timeout": "10s"})
	require.Equal(t, buffer.OK, c.Push(transport.Payload("X")))

	result := make(chan buffer.Status, 1)
	go func() { result <- c.Push(transport.Payload("Y")) }()

	// let the writer block
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = c.Teardown()
		close(done)
	}()

	select {
	case st := <-result:
		assert.Equal(t, buffer.PreconditionNotMet, st)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked push was not released by teardown")
	}
	<-done
}

func TestActivate_Preconditions(t *testing.T) {
	c, err := New(Config{Port: PortRef{Port: "in"}})
	require.NoError(t, err)

	err = c.Activate(context.Background())
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))

	var open atomic.Bool
	gated, _ := newWired(t, Config{Gate: GateFunc(open.Load)}, nil)
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(gated.Activate(context.Background())))

	open.Store(true)
	require.NoError(t, gated.Activate(context.Background()))
	require.NoError(t, gated.Activate(context.Background()))
	assert.Equal(t, StateActive, gated.State())

	assert.Equal(t, errors.PreconditionNotMet, errors.Code(gated.AttachBuffer(gated.Buffer())))
	require.NoError(t, gated.Deactivate())
	assert.Equal(t, StateInactive, gated.State())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Equal(t, errors.BadParameter, errors.Code(err))

	_, err = New(Config{Port: PortRef{Port: "in"}, Role: RoleProvider})
	assert.Equal(t, errors.BadParameter, errors.Code(err))

	c, err := New(Config{Port: PortRef{Port: "in"}})
	require.NoError(t, err)
	assert.Len(t, c.ID(), 36)
	assert.Equal(t, errors.BadParameter, errors.Code(c.AttachBuffer(nil)))
	assert.Equal(t, errors.BadParameter, errors.Code(c.AttachListeners(nil)))
}

func TestActivate_UnknownTransport(t *testing.T) {
	c, _ := newWired(t, Config{Role: RoleProvider, Registry: transport.NewRegistry()},
		map[string]string{"interface_type": "xyz", "topic": "chatter"})

	err := c.Activate(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnknownTransport))
	assert.Equal(t, StateCreated, c.State())
	assert.Nil(t, c.Links())
	assert.True(t, stderrors.Is(c.LastError(), errors.ErrUnknownTransport))
}

func TestActivate_RequiresTransportName(t *testing.T) {
	c, _ := newWired(t, Config{Role: RoleConsumer, Registry: transport.NewRegistry()}, nil)
	assert.Equal(t, errors.BadParameter, errors.Code(c.Activate(context.Background())))
}

func TestString(t *testing.T) {
	assert.Equal(t, "provider", RoleProvider.String())
	assert.Equal(t, "unknown", Role(9).String())
	assert.Equal(t, "torn_down", StateTornDown.String())
	assert.Equal(t, "unknown", State(9).String())
}
