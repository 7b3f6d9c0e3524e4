package buffer

import (
	"time"

	"github.com/c360/rtlink/metric"
)

// Option configures a buffer
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	writeTimeout   time.Duration
	dropCallback   DropCallback[T]

	metricsReg    metric.MetricsRegistrar
	metricsPrefix string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DoNothing.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithWriteTimeout sets the default timeout Write uses under Block policy.
// Negative values are treated as zero.
func WithWriteTimeout[T any](d time.Duration) Option[T] {
	return func(opts *bufferOptions[T]) {
		if d < 0 {
			d = 0
		}
		opts.writeTimeout = d
	}
}

// WithMetrics exports buffer counters under prefix. A nil registry or empty prefix is ignored.
func WithMetrics[T any](registry metric.MetricsRegistrar, prefix string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a callback for items discarded by Overwrite
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{overflowPolicy: DoNothing}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
