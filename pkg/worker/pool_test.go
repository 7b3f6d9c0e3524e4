package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func process(counter *atomic.Int64) func(context.Context, testWork) error {
	return func(ctx context.Context, w testWork) error {
		if w.delay > 0 {
			select {
			case <-time.After(w.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		counter.Add(1)
		if w.fail {
			return errors.New("failed")
		}
		return nil
	}
}

func TestNewPool_Defaults(t *testing.T) {
	var n atomic.Int64
	pool, err := NewPool(0, 0, process(&n))
	require.NoError(t, err)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 64, pool.queueSize)

	_, err = NewPool[testWork](1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_Lifecycle(t *testing.T) {
	var n atomic.Int64
	pool, err := NewPool(2, 10, process(&n))
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(5), n.Load())
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_QueueFullDrops(t *testing.T) {
	var n atomic.Int64
	block := make(chan struct{})
	pool, err := NewPool(1, 1, func(ctx context.Context, _ testWork) error {
		<-block
		n.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	// Wait for the worker to take the first item so the queue slot frees
	require.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))
	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)

	close(block)
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(2), n.Load())
}

func TestPool_SubmitWaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	pool, err := NewPool(1, 1, func(context.Context, testWork) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{}))
	require.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, testWork{}), context.DeadlineExceeded)
}

func TestPool_FailuresCounted(t *testing.T) {
	var n atomic.Int64
	registry := metric.NewMetricsRegistry()
	pool, err := NewPool(2, 10, process(&n), WithMetricsRegistry[testWork](registry, "test_pool"))
	require.NoError(t, err)
	require.NotNil(t, pool.metrics)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{fail: true}))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int64(1), pool.Stats().Failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.outcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.outcomes.WithLabelValues("processed")))
}

func TestPool_DuplicateMetricsLeavesPoolUsable(t *testing.T) {
	var n atomic.Int64
	registry := metric.NewMetricsRegistry()
	_, err := NewPool(1, 1, process(&n), WithMetricsRegistry[testWork](registry, "dup"))
	require.NoError(t, err)

	pool, err := NewPool(1, 1, process(&n), WithMetricsRegistry[testWork](registry, "dup"))
	require.NoError(t, err)
	assert.Nil(t, pool.metrics)
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	var n atomic.Int64
	pool, err := NewPool(2, 10, process(&n))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Submit(testWork{delay: time.Hour}))
	cancel()

	assert.NoError(t, pool.Stop(time.Second))
}
