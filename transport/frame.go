package transport

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/c360/rtlink/errors"
)

// DefaultMaxFrame bounds a payload frame unless the transport is configured otherwise
const DefaultMaxFrame = 16 * 1024 * 1024

func violation(method, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrProtocolViolation, reason), "frame", method, "decode")
}

// WriteFrame writes a 4-byte little-endian length followed by p. Zero-length
// frames are legal.
func WriteFrame(w io.Writer, p []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.WrapTransient(err, "frame", "WriteFrame", "write length")
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := w.Write(p); err != nil {
		return errors.WrapTransient(err, "frame", "WriteFrame", "write payload")
	}
	return nil
}

// ReadFrame reads one frame. A clean EOF before the length is ErrPeerDisconnected;
// a truncated frame or one longer than maxLen is ErrProtocolViolation.
func ReadFrame(r io.Reader, maxLen int) (Payload, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		switch {
		case stderrors.Is(err, io.EOF):
			return nil, errors.WrapTransient(errors.ErrPeerDisconnected, "frame", "ReadFrame", "read length")
		case stderrors.Is(err, io.ErrUnexpectedEOF):
			return nil, violation("ReadFrame", "truncated length prefix")
		default:
			return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err), "frame", "ReadFrame", "read length")
		}
	}

	n := binary.LittleEndian.Uint32(hdr[:])
	if maxLen > 0 && uint64(n) > uint64(maxLen) {
		return nil, violation("ReadFrame", fmt.Sprintf("frame length %d exceeds limit %d", n, maxLen))
	}

	p := make(Payload, n)
	if n == 0 {
		return p, nil
	}
	if _, err := io.ReadFull(r, p); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, violation("ReadFrame", fmt.Sprintf("truncated frame, want %d bytes", n))
		}
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err), "frame", "ReadFrame", "read payload")
	}
	return p, nil
}

// EncodeFrame returns p as a single length-prefixed frame
func EncodeFrame(p []byte) []byte {
	out := make([]byte, 4+len(p))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(p)))
	copy(out[4:], p)
	return out
}

// DecodeFrame parses a message carrying exactly one frame
func DecodeFrame(b []byte, maxLen int) (Payload, error) {
	if len(b) < 4 {
		return nil, violation("DecodeFrame", "message shorter than length prefix")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if maxLen > 0 && uint64(n) > uint64(maxLen) {
		return nil, violation("DecodeFrame", fmt.Sprintf("frame length %d exceeds limit %d", n, maxLen))
	}
	if uint64(n) != uint64(len(b)-4) {
		return nil, violation("DecodeFrame", fmt.Sprintf("length prefix %d does not match body %d", n, len(b)-4))
	}
	return Payload(b[4:]).Clone(), nil
}
