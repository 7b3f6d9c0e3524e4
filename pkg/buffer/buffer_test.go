package buffer

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/metric"
)

func newBuf[T any](t *testing.T, capacity int, opts ...Option[T]) Buffer[T] {
	t.Helper()
	buf, err := NewCircularBuffer[T](capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestCircularBuffer_InitialState(t *testing.T) {
	buf := newBuf[int](t, 5)

	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 5, buf.Capacity())
	assert.True(t, buf.IsEmpty())
	assert.False(t, buf.IsFull())
	assert.Equal(t, DoNothing, buf.Policy())
	assert.Zero(t, buf.WriteTimeout())
}

func TestCircularBuffer_CapacityClampedToOne(t *testing.T) {
	for _, c := range []int{0, -3} {
		buf := newBuf[int](t, c)
		assert.Equal(t, 1, buf.Capacity())
	}
}

func TestCircularBuffer_FIFO(t *testing.T) {
	buf := newBuf[string](t, 3)

	for _, s := range []string{"a", "b", "c"} {
		require.Equal(t, OK, buf.Write(s))
	}

	peeked, st := buf.Peek()
	require.Equal(t, OK, st)
	assert.Equal(t, "a", peeked)
	assert.Equal(t, 3, buf.Size())

	for _, want := range []string{"a", "b", "c"} {
		got, st := buf.Read()
		require.Equal(t, OK, st)
		assert.Equal(t, want, got)
	}

	_, st = buf.Read()
	assert.Equal(t, Empty, st)
	_, st = buf.Peek()
	assert.Equal(t, Empty, st)
}

func TestCircularBuffer_WrapAround(t *testing.T) {
	buf := newBuf[int](t, 2)

	for i := 0; i < 10; i++ {
		require.Equal(t, OK, buf.Write(i))
		got, st := buf.Read()
		require.Equal(t, OK, st)
		require.Equal(t, i, got)
	}
}

// Capacity 1 without overwrite: second write is rejected and the first survives
func TestWrite_FullWithDoNothing(t *testing.T) {
	buf := newBuf[string](t, 1)

	assert.Equal(t, OK, buf.Write("X"))
	assert.Equal(t, Full, buf.Write("Y"))
	assert.Equal(t, 1, buf.Size())

	got, st := buf.Read()
	assert.Equal(t, OK, st)
	assert.Equal(t, "X", got)

	_, st = buf.Read()
	assert.Equal(t, Empty, st)
}

// Capacity 1 with overwrite: second write displaces the first
func TestWrite_OverwriteDropsOldest(t *testing.T) {
	var dropped []string
	buf := newBuf[string](t, 1,
		WithOverflowPolicy[string](Overwrite),
		WithDropCallback[string](func(s string) { dropped = append(dropped, s) }))

	assert.Equal(t, OK, buf.Write("X"))
	res := buf.WriteDetailed("Y", 0)
	assert.Equal(t, OK, res.Status)
	assert.True(t, res.Overwrote)
	assert.Equal(t, []string{"X"}, dropped)

	got, st := buf.Read()
	assert.Equal(t, OK, st)
	assert.Equal(t, "Y", got)
	assert.Equal(t, int64(1), buf.Stats().Overwrites())
}

func TestFullOverwriteLaw(t *testing.T) {
	const n = 4

	t.Run("do_nothing", func(t *testing.T) {
		buf := newBuf[int](t, n)
		for i := 0; i < n; i++ {
			require.Equal(t, OK, buf.Write(i))
		}
		assert.Equal(t, Full, buf.Write(99))
		assert.Equal(t, n, buf.Size())
		first, _ := buf.Read()
		assert.Equal(t, 0, first)
	})

	t.Run("overwrite", func(t *testing.T) {
		buf := newBuf[int](t, n, WithOverflowPolicy[int](Overwrite))
		for i := 0; i < n; i++ {
			require.Equal(t, OK, buf.Write(i))
		}
		assert.Equal(t, OK, buf.Write(99))
		assert.Equal(t, n, buf.Size())
		first, _ := buf.Read()
		assert.Equal(t, 1, first, "oldest item discarded")
	})
}

func TestOccupancyNeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, policy := range []OverflowPolicy{DoNothing, Overwrite, Block} {
		t.Run(policy.String(), func(t *testing.T) {
			capacity := 1 + rng.Intn(6)
			buf := newBuf[int](t, capacity, WithOverflowPolicy[int](policy))
			for i := 0; i < 500; i++ {
				if rng.Intn(3) == 0 {
					buf.Read()
				} else {
					buf.WriteWithTimeout(i, 0)
				}
				size := buf.Size()
				require.GreaterOrEqual(t, size, 0)
				require.LessOrEqual(t, size, capacity)
			}
		})
	}
}

func TestBlock_TimesOut(t *testing.T) {
	buf := newBuf[int](t, 1,
		WithOverflowPolicy[int](Block),
		WithWriteTimeout[int](30*time.Millisecond))

	require.Equal(t, OK, buf.Write(1))

	start := time.Now()
	assert.Equal(t, Timeout, buf.Write(2))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, buf.Size())
	assert.Equal(t, int64(1), buf.Stats().Timeouts())
}

func TestBlock_ZeroTimeoutIsFull(t *testing.T) {
	buf := newBuf[int](t, 1, WithOverflowPolicy[int](Block))
	require.Equal(t, OK, buf.Write(1))
	assert.Equal(t, Full, buf.Write(2))
	assert.Equal(t, Full, buf.WriteWithTimeout(2, -time.Second))
}

func TestBlock_ProceedsWhenReaderFreesSlot(t *testing.T) {
	buf := newBuf[int](t, 1, WithOverflowPolicy[int](Block))
	require.Equal(t, OK, buf.Write(1))

	go func() {
		time.Sleep(20 * time.Millisecond)
		buf.Read()
	}()

	assert.Equal(t, OK, buf.WriteWithTimeout(2, 2*time.Second))
	got, st := buf.Read()
	require.Equal(t, OK, st)
	assert.Equal(t, 2, got)
}

func TestBlock_ClearWakesWriter(t *testing.T) {
	buf := newBuf[int](t, 1, WithOverflowPolicy[int](Block))
	require.Equal(t, OK, buf.Write(1))

	go func() {
		time.Sleep(20 * time.Millisecond)
		buf.Clear()
	}()

	assert.Equal(t, OK, buf.WriteWithTimeout(2, 2*time.Second))
	assert.Equal(t, 1, buf.Size())
}

func TestClose_WakesBlockedWriter(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.Equal(t, OK, buf.Write(1))

	result := make(chan Status, 1)
	go func() { result <- buf.WriteWithTimeout(2, 10*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case st := <-result:
		assert.Equal(t, PreconditionNotMet, st)
	case <-time.After(time.Second):
		t.Fatal("blocked writer not released by Close")
	}
}

func TestClose_RejectsOperations(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	require.Equal(t, OK, buf.Write(1))

	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	assert.Equal(t, PreconditionNotMet, buf.Write(2))
	_, st := buf.Read()
	assert.Equal(t, PreconditionNotMet, st)
	_, st = buf.Peek()
	assert.Equal(t, PreconditionNotMet, st)
	assert.Equal(t, 0, buf.Size())
}

func TestConcurrentWritersAndReader(t *testing.T) {
	buf := newBuf[int](t, 16, WithOverflowPolicy[int](Block), WithWriteTimeout[int](time.Second))

	const writers, perWriter = 4, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.Equal(t, OK, buf.Write(w*perWriter+i))
			}
		}(w)
	}

	lastSeen := make(map[int]int)
	received := 0
	deadline := time.After(5 * time.Second)
	for received < writers*perWriter {
		select {
		case <-deadline:
			t.Fatalf("received %d of %d", received, writers*perWriter)
		default:
		}
		v, st := buf.Read()
		if st == Empty {
			time.Sleep(time.Millisecond)
			continue
		}
		require.Equal(t, OK, st)
		w := v / perWriter
		if prev, ok := lastSeen[w]; ok {
			require.Greater(t, v, prev, "per-writer order preserved")
		}
		lastSeen[w] = v
		received++
	}
	wg.Wait()
}

func TestStatistics(t *testing.T) {
	buf := newBuf[int](t, 2)
	buf.Write(1)
	buf.Write(2)
	buf.Write(3)
	buf.Read()

	snap := buf.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Writes)
	assert.Equal(t, int64(1), snap.Fulls)
	assert.Equal(t, int64(1), snap.Reads)
	assert.Equal(t, int64(1), snap.CurrentSize)
	assert.Equal(t, int64(2), snap.MaxSize)
	assert.InDelta(t, 1.0/3.0, buf.Stats().RejectRate(), 0.001)
	assert.InDelta(t, 0.5, buf.Stats().Utilization(2), 0.001)

	buf.Stats().Reset()
	assert.Zero(t, buf.Stats().Writes())
	assert.Zero(t, buf.Stats().MaxSize())
}

func TestMetrics_RegisteredAndReleasedOnClose(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](1,
		WithOverflowPolicy[int](DoNothing),
		WithMetrics[int](registry, "conn-1"))
	require.NoError(t, err)

	cb := buf.(*circularBuffer[int])
	require.NotNil(t, cb.metrics)

	buf.Write(1)
	buf.Write(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.writes.WithLabelValues("OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.writes.WithLabelValues("FULL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.utilization))

	// Same prefix collides while the first buffer is alive
	_, err = NewCircularBuffer[int](1, WithMetrics[int](registry, "conn-1"))
	assert.Error(t, err)

	require.NoError(t, buf.Close())
	again, err := NewCircularBuffer[int](1, WithMetrics[int](registry, "conn-1"))
	require.NoError(t, err)
	_ = again.Close()
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]OverflowPolicy{
		"":           DoNothing,
		"do_nothing": DoNothing,
		"DoNothing":  DoNothing,
		"overwrite":  Overwrite,
		"BLOCK":      Block,
	}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePolicy("drop")
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "FULL", Full.String())
	assert.Equal(t, "TIMEOUT", Timeout.String())
	assert.Equal(t, "EMPTY", Empty.String())
	assert.Equal(t, "PRECONDITION_NOT_MET", PreconditionNotMet.String())
	assert.Equal(t, "ERROR", Error.String())
	assert.Equal(t, "Status(42)", Status(42).String())
}

func BenchmarkWriteRead(b *testing.B) {
	for _, policy := range []OverflowPolicy{DoNothing, Overwrite} {
		b.Run(policy.String(), func(b *testing.B) {
			buf, err := NewCircularBuffer[int](64, WithOverflowPolicy[int](policy))
			if err != nil {
				b.Fatal(err)
			}
			defer buf.Close()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				buf.Write(i)
				if i%2 == 0 {
					buf.Read()
				}
			}
		})
	}
}
