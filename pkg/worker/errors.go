package worker

import "errors"

// Pool state and submission errors
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("nil processor")
	ErrStopTimeout        = errors.New("workers did not stop in time")
)
