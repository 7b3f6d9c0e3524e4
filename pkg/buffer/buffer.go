// Package buffer provides the bounded, thread-safe holding area between a transport and
// component logic. Every write and read returns a Status instead of an error.
package buffer

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of a buffer operation
type Status int

const (
	// OK means the operation completed
	OK Status = iota
	// Full means a write found no free slot and the policy does not overwrite
	Full
	// Timeout means a blocking write waited its full timeout without a slot freeing
	Timeout
	// Empty means a read found nothing pending
	Empty
	// PreconditionNotMet means the buffer is closed or not attached
	PreconditionNotMet
	// Error is a transport-level failure reported through the same status channel
	Error
)

// String returns the canonical spelling used in logs and listener events
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Full:
		return "FULL"
	case Timeout:
		return "TIMEOUT"
	case Empty:
		return "EMPTY"
	case PreconditionNotMet:
		return "PRECONDITION_NOT_MET"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Buffer is a bounded FIFO parameterized by item type.
type Buffer[T any] interface {
	// Write adds an item using the configured write timeout
	Write(item T) Status

	// WriteWithTimeout adds an item, overriding the configured timeout for Block policy
	WriteWithTimeout(item T, timeout time.Duration) Status

	// WriteDetailed is WriteWithTimeout that also reports whether the oldest item was overwritten
	WriteDetailed(item T, timeout time.Duration) WriteResult

	// Read removes the oldest item. It never blocks; an empty buffer returns Empty.
	Read() (T, Status)

	// Peek returns the oldest item without removing it
	Peek() (T, Status)

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear discards every pending item and wakes blocked writers
	Clear()

	// Policy returns the overflow policy fixed at construction
	Policy() OverflowPolicy

	// WriteTimeout returns the default timeout used by Write
	WriteTimeout() time.Duration

	// Stats returns buffer statistics (always collected)
	Stats() *Statistics

	// Close rejects further operations and wakes blocked writers. Idempotent.
	Close() error
}

// WriteResult carries a write status and whether the write displaced the oldest item
type WriteResult struct {
	Status    Status
	Overwrote bool
}

// OverflowPolicy defines what a write does when the buffer is at capacity
type OverflowPolicy int

const (
	// DoNothing rejects the write with Full and leaves the buffer untouched
	DoNothing OverflowPolicy = iota

	// Overwrite discards the oldest item; the write never blocks and returns OK
	Overwrite

	// Block waits up to the write timeout for a slot, then returns Timeout
	Block
)

// String returns the configuration spelling of the policy
func (p OverflowPolicy) String() string {
	switch p {
	case DoNothing:
		return "do_nothing"
	case Overwrite:
		return "overwrite"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a configuration value. Matching is case-insensitive and
// accepts "do_nothing", "donothing", "overwrite" and "block".
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "do_nothing", "donothing", "nowait":
		return DoNothing, nil
	case "overwrite":
		return Overwrite, nil
	case "block":
		return Block, nil
	default:
		return DoNothing, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// DropCallback is called, outside the buffer lock, with an item discarded by Overwrite
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer. Capacity below 1 is raised to 1.
// It returns an error only when requested metrics cannot be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
