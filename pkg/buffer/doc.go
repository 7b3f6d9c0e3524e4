// Package buffer implements the DataBuffer every connector owns.
//
// A buffer is a fixed-capacity FIFO whose operations report a Status rather than an
// error. Behavior at capacity is chosen once, at construction:
//
//   - DoNothing: the write returns Full and the buffer is unchanged
//   - Overwrite: the oldest item is discarded, the write returns OK and WriteDetailed
//     reports Overwrote so callers can raise an overwrite notification
//   - Block: the write waits on a condition variable for up to the write timeout and
//     returns Timeout if no slot frees; a zero timeout returns Full at once
//
// Reads never block. An empty buffer returns Empty.
//
// Close is the cancellation primitive: it wakes blocked writers, which return
// PreconditionNotMet, and every later operation returns PreconditionNotMet too.
//
//	buf, err := buffer.NewCircularBuffer[transport.Payload](8,
//	    buffer.WithOverflowPolicy[transport.Payload](buffer.Block),
//	    buffer.WithWriteTimeout[transport.Payload](100*time.Millisecond),
//	    buffer.WithMetrics[transport.Payload](registry, connectorID))
//	if err != nil {
//	    return err
//	}
//	switch buf.Write(p) {
//	case buffer.OK:
//	case buffer.Timeout:
//	    // reader fell behind for a whole timeout
//	}
//
// Statistics are always collected; Prometheus export is optional through WithMetrics
// and is unregistered again by Close.
package buffer
