// Package errors provides standardized error handling for rtlink components and transports.
// It includes error classification, the sentinel errors of the connector taxonomy, the
// lifecycle ReturnCode surfaced to activation layers, and helpers for consistent wrapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/rtlink/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, configuration or state
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrPreconditionNotMet = errors.New("precondition not met")
	ErrBadParameter       = errors.New("bad parameter")
	ErrAlreadyStarted     = errors.New("component already started")
	ErrNotStarted         = errors.New("component not started")
	ErrAlreadyStopped     = errors.New("component already stopped")

	// Handshake errors
	ErrUnknownTransport = errors.New("unknown transport")
	ErrHandshakeFailed  = errors.New("handshake failed")
	ErrTypeMismatch     = errors.New("data type mismatch")

	// Connection runtime errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrPeerDisconnected   = errors.New("peer disconnected")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrLinkExists         = errors.New("link already established for peer")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Delivery errors reported by a remote receiver
	ErrReceiverFull    = errors.New("receiver buffer full")
	ErrReceiverTimeout = errors.New("receiver write timeout")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrDataCorrupted = errors.New("data corrupted")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRateLimited       = errors.New("rate limited")

	// Circuit breaker and retry errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ReturnCode is the small enumerated result lifecycle operations report to an
// activation layer (an RPC skeleton, a CLI). Go callers use the error directly.
type ReturnCode int

const (
	// OK means the operation succeeded
	OK ReturnCode = iota
	// Error means the operation failed for a reason outside the other codes
	Error
	// PreconditionNotMet means the object was in the wrong state for the operation
	PreconditionNotMet
	// BadParameter means an argument (port name, connector id, option) was invalid
	BadParameter
)

// String returns the wire spelling of the return code
func (rc ReturnCode) String() string {
	switch rc {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case PreconditionNotMet:
		return "PRECONDITION_NOT_MET"
	case BadParameter:
		return "BAD_PARAMETER"
	default:
		return "UNKNOWN"
	}
}

// Code maps an error onto its ReturnCode. A nil error is OK.
func Code(err error) ReturnCode {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrPreconditionNotMet):
		return PreconditionNotMet
	case errors.Is(err, ErrBadParameter):
		return BadParameter
	default:
		return Error
	}
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Handshake outcomes are never transient: retrying them is the caller's decision
	if errors.Is(err, ErrHandshakeFailed) || errors.Is(err, ErrUnknownTransport) {
		return false
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrPeerDisconnected) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary",
		"unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrDataCorrupted) ||
		errors.Is(err, ErrResourceExhausted)
}

// IsInvalid checks if an error is due to invalid input or state
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrBadParameter) ||
		errors.Is(err, ErrPreconditionNotMet) ||
		errors.Is(err, ErrUnknownTransport) ||
		errors.Is(err, ErrHandshakeFailed) ||
		errors.Is(err, ErrProtocolViolation)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	return ErrorTransient
}

// IsHandshake reports whether err aborted a connection attempt during the handshake
func IsHandshake(err error) bool {
	return errors.Is(err, ErrHandshakeFailed)
}

// newClassified creates a new classified error.
// Use WrapTransient(), WrapFatal() or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Precondition returns an invalid-class error wrapping ErrPreconditionNotMet
func Precondition(component, method, reason string) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrPreconditionNotMet, reason), component, method, "state check")
}

// BadParam returns an invalid-class error wrapping ErrBadParameter
func BadParam(component, method, reason string) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrBadParameter, reason), component, method, "parameter validation")
}

// Handshake returns an invalid-class error wrapping ErrHandshakeFailed and cause.
// cause may itself wrap ErrTypeMismatch; both remain matchable with errors.Is.
func Handshake(cause error, component, method string) error {
	if cause == nil {
		cause = errors.New("rejected by peer")
	}
	return WrapInvalid(fmt.Errorf("%w: %w", ErrHandshakeFailed, cause), component, method, "handshake")
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}

	if !IsTransient(err) {
		return false
	}

	if len(rc.RetryableErrors) > 0 {
		for _, retryableErr := range rc.RetryableErrors {
			if errors.Is(err, retryableErr) {
				return true
			}
		}
		return false
	}

	return true
}

// ToRetryConfig converts to the retry package Config. MaxRetries counts
// additional attempts, so the total is MaxRetries+1.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay calculates the delay for a retry attempt
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return rc.InitialDelay
	}

	delay := rc.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * rc.BackoffFactor)
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
			break
		}
	}

	return delay
}
