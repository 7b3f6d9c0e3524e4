package buffer

import (
	"sync"
	"time"

	"github.com/c360/rtlink/errors"
)

// circularBuffer is a fixed ring guarded by one mutex; notFull wakes Block writers.
type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]

	notFull *sync.Cond
	closed  bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity < 1 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) Status {
	return cb.WriteDetailed(item, cb.opts.writeTimeout).Status
}

func (cb *circularBuffer[T]) WriteWithTimeout(item T, timeout time.Duration) Status {
	return cb.WriteDetailed(item, timeout).Status
}

func (cb *circularBuffer[T]) WriteDetailed(item T, timeout time.Duration) WriteResult {
	var (
		dropped   T
		overwrote bool
	)

	cb.mu.Lock()
	status := cb.writeLocked(item, timeout, &dropped, &overwrote)
	size := cb.size
	cb.mu.Unlock()

	cb.record(status, overwrote, size)
	if overwrote && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return WriteResult{Status: status, Overwrote: overwrote}
}

func (cb *circularBuffer[T]) writeLocked(item T, timeout time.Duration, dropped *T, overwrote *bool) Status {
	if cb.closed {
		return PreconditionNotMet
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case Overwrite:
			*dropped = cb.popLocked()
			*overwrote = true

		case Block:
			if timeout <= 0 {
				return Full
			}
			if st := cb.waitForSlotLocked(timeout); st != OK {
				return st
			}

		default:
			return Full
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	return OK
}

// waitForSlotLocked waits on notFull until a slot frees, the buffer closes or
// timeout elapses. A timer broadcast bounds the wait.
func (cb *circularBuffer[T]) waitForSlotLocked(timeout time.Duration) Status {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		cb.mu.Lock()
		cb.notFull.Broadcast()
		cb.mu.Unlock()
	})
	defer timer.Stop()

	for cb.size == cb.capacity && !cb.closed {
		if !time.Now().Before(deadline) {
			return Timeout
		}
		cb.notFull.Wait()
	}
	if cb.closed {
		return PreconditionNotMet
	}
	return OK
}

func (cb *circularBuffer[T]) popLocked() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) Read() (T, Status) {
	var zero T

	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return zero, PreconditionNotMet
	}
	if cb.size == 0 {
		cb.mu.Unlock()
		return zero, Empty
	}
	item := cb.popLocked()
	size := cb.size
	cb.notFull.Signal()
	cb.mu.Unlock()

	cb.stats.Read()
	cb.stats.UpdateSize(int64(size))
	if cb.metrics != nil {
		cb.metrics.recordRead()
		cb.metrics.updateSize(size, cb.capacity)
	}
	return item, OK
}

func (cb *circularBuffer[T]) Peek() (T, Status) {
	var zero T

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return zero, PreconditionNotMet
	}
	if cb.size == 0 {
		return zero, Empty
	}
	cb.stats.Peek()
	return cb.items[cb.tail], OK
}

func (cb *circularBuffer[T]) record(status Status, overwrote bool, size int) {
	switch status {
	case OK:
		cb.stats.Write()
		if overwrote {
			cb.stats.Overwrite()
		}
		cb.stats.UpdateSize(int64(size))
	case Full:
		cb.stats.Full()
	case Timeout:
		cb.stats.Timeout()
	}

	if cb.metrics != nil {
		cb.metrics.recordWrite(status, overwrote)
		cb.metrics.updateSize(size, cb.capacity)
	}
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == 0
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.head, cb.tail, cb.size = 0, 0, 0
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
}

func (cb *circularBuffer[T]) Policy() OverflowPolicy {
	return cb.opts.overflowPolicy
}

func (cb *circularBuffer[T]) WriteTimeout() time.Duration {
	return cb.opts.writeTimeout
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return nil
	}
	cb.closed = true
	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.size = 0
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	if cb.metrics != nil {
		cb.metrics.unregister()
	}
	return nil
}
