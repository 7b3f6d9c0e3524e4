// Package errors provides the error taxonomy and wrapping conventions shared by every rtlink package.
//
// # Classification
//
// Errors fall into three classes that drive retry and teardown decisions:
//
//   - Transient: peer disconnects, timeouts, temporary directory unavailability (retry may help)
//   - Invalid: bad parameters, precondition violations, handshake rejections (do not retry)
//   - Fatal: data corruption, resource exhaustion (stop processing)
//
// Classification survives wrapping, so callers test with IsTransient, IsInvalid and
// IsFatal rather than matching strings.
//
// # Taxonomy
//
// Connector and lifecycle failures map onto a fixed set of sentinels:
//
//	ErrUnknownTransport    // no factory registered for the requested interface_type
//	ErrHandshakeFailed     // header negotiation rejected; no link was created
//	ErrTypeMismatch        // always reported together with ErrHandshakeFailed
//	ErrPeerDisconnected    // a live link closed underneath its connector
//	ErrProtocolViolation   // malformed frame or oversized length prefix
//	ErrPreconditionNotMet  // operation invoked in the wrong lifecycle state
//	ErrBadParameter        // unknown port, empty connector id, invalid option
//
// A mismatched handshake is built with Handshake so both sentinels match:
//
//	err := errors.Handshake(fmt.Errorf("%w: want %q got %q", errors.ErrTypeMismatch, want, got), "tcp", "negotiate")
//	stderrors.Is(err, errors.ErrHandshakeFailed) // true
//	stderrors.Is(err, errors.ErrTypeMismatch)    // true
//
// # Return codes
//
// Activation layers that speak a small enumerated result use Code:
//
//	switch errors.Code(comp.Finalize()) {
//	case errors.OK:
//	case errors.PreconditionNotMet:
//	    // still attached to a running execution context
//	}
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: %w":
//
//	return errors.WrapTransient(err, "tcp.Consumer", "Send", "write frame")
//
// Wrap keeps the original classification; the WrapTransient, WrapInvalid and WrapFatal
// variants set it.
package errors
