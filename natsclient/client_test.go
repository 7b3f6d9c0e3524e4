package natsclient

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/metric"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.Backoff())
	assert.Nil(t, c.GetConnection())

	st := c.GetStatus()
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.Zero(t, st.FailureCount)
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewClient_ConnectionOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithPingInterval(5*time.Second),
		WithDrainTimeout(3*time.Second),
		WithMaxBackoff(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.pingInterval)
	assert.Equal(t, 3*time.Second, c.drainTimeout)
	assert.Equal(t, 2*time.Minute, c.maxBackoff)

	c, err = NewClient("nats://localhost:4222", WithMaxBackoff(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.maxBackoff, "sub-second backoff falls back to the default")
}

func TestClient_ConnectionCallbacks(t *testing.T) {
	disconnected := make(chan error, 1)
	reconnected := make(chan struct{}, 1)
	health := make(chan bool, 4)

	c, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(err error) { disconnected <- err }),
		WithReconnectCallback(func() { reconnected <- struct{}{} }),
		WithHealthChangeCallback(func(healthy bool) { health <- healthy }))
	require.NoError(t, err)

	lost := stderrors.New("read: connection reset")
	c.handleDisconnect(nil, lost)
	assert.Equal(t, StatusReconnecting, c.Status())
	select {
	case err := <-disconnected:
		assert.Equal(t, lost, err)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}
	select {
	case healthy := <-health:
		assert.False(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("health callback not called on disconnect")
	}

	c.handleReconnect(nil)
	assert.Equal(t, StatusConnected, c.Status())
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}
	select {
	case healthy := <-health:
		assert.True(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("health callback not called on reconnect")
	}
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, "a", []byte("x")), ErrNotConnected)

	_, err = c.Subscribe(ctx, "a", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Request(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_CircuitBreakerOpensAtThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	c.recordFailure()
	assert.Equal(t, StatusDisconnected, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())
	assert.EqualValues(t, 2, c.Failures())

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, c.Publish(context.Background(), "a", nil), ErrCircuitOpen)

	c.halfOpen()
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_ConnectFailureIsTransient(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithCircuitBreakerThreshold(10),
		WithHealthInterval(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.EqualValues(t, 1, c.Failures())
}

func TestClient_ConnectAfterClose(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_StatusMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c, err := NewClient("nats://localhost:4222", WithMetrics(reg.CoreMetrics()))
	require.NoError(t, err)

	c.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CoreMetrics().NATSConnected))

	c.setStatus(StatusReconnecting)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.CoreMetrics().NATSConnected))
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, stderrors.Is(ErrKVKeyNotFound, errors.ErrKeyNotFound))
	assert.True(t, IsKVNotFoundError(stderrors.New("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))

	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(stderrors.New("wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(stderrors.New("boom")))
	assert.False(t, IsKVConflictError(nil))

	assert.True(t, stderrors.Is(ErrKVMaxRetriesExceeded, errors.ErrMaxRetriesExceeded))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.True(t, isAlreadyExistsError(stderrors.New("stream name already in use")))
	assert.True(t, isAlreadyExistsError(stderrors.New("bucket already exists")))
	assert.False(t, isAlreadyExistsError(stderrors.New("nope")))
	assert.False(t, isAlreadyExistsError(nil))
}
