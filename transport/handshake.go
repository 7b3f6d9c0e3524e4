package transport

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/c360/rtlink/errors"
)

// MaxHeaderSize bounds a handshake header block
const MaxHeaderSize = 64 * 1024

// Wildcard accepts any data type or checksum from the peer
const Wildcard = "*"

// Header field names on the wire
const (
	fieldType       = "type"
	fieldChecksum   = "md5sum"
	fieldCallerID   = "callerid"
	fieldTopic      = "topic"
	fieldMarshaling = "marshaling"
	fieldProtocol   = "protocol"
	fieldError      = "error"
)

// Header is the capability record exchanged during negotiation
type Header struct {
	DataType   string
	Checksum   string
	CallerID   string
	Topic      string
	Marshaling string
	Protocol   string
	// Error is set by a peer rejecting the handshake
	Error string
	// Extra carries unrecognized fields
	Extra map[string]string
}

// RejectHeader builds the reply sent to a peer whose header failed negotiation
func RejectHeader(callerID string, cause error) Header {
	return Header{CallerID: callerID, Error: cause.Error()}
}

// Fields returns the non-empty header fields keyed by wire name
func (h Header) Fields() map[string]string {
	out := make(map[string]string, len(h.Extra)+7)
	for k, v := range h.Extra {
		out[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set(fieldType, h.DataType)
	set(fieldChecksum, h.Checksum)
	set(fieldCallerID, h.CallerID)
	set(fieldTopic, h.Topic)
	set(fieldMarshaling, h.Marshaling)
	set(fieldProtocol, h.Protocol)
	set(fieldError, h.Error)
	return out
}

// MarshalBinary encodes the header body: a sequence of 4-byte little-endian
// length-prefixed "key=value" fields, in key order.
func (h Header) MarshalBinary() ([]byte, error) {
	fields := h.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "" || strings.Contains(k, "=") {
			return nil, errors.BadParam("Header", "MarshalBinary", fmt.Sprintf("invalid field name %q", k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		field := k + "=" + fields[k]
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(field)))
		buf.Write(lenBuf[:])
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

// DecodeHeader parses a header body produced by MarshalBinary
func DecodeHeader(body []byte) (Header, error) {
	var h Header
	for len(body) > 0 {
		if len(body) < 4 {
			return Header{}, violation("DecodeHeader", "truncated field length")
		}
		n := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint64(n) > uint64(len(body)) {
			return Header{}, violation("DecodeHeader", fmt.Sprintf("field length %d exceeds remaining %d", n, len(body)))
		}
		field := string(body[:n])
		body = body[n:]

		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return Header{}, violation("DecodeHeader", fmt.Sprintf("malformed field %q", field))
		}
		switch key {
		case fieldType:
			h.DataType = value
		case fieldChecksum:
			h.Checksum = value
		case fieldCallerID:
			h.CallerID = value
		case fieldTopic:
			h.Topic = value
		case fieldMarshaling:
			h.Marshaling = value
		case fieldProtocol:
			h.Protocol = value
		case fieldError:
			h.Error = value
		default:
			if h.Extra == nil {
				h.Extra = make(map[string]string)
			}
			h.Extra[key] = value
		}
	}
	return h, nil
}

// WriteHeader writes the header as one length-prefixed block
func WriteHeader(w io.Writer, h Header) error {
	body, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if len(body) > MaxHeaderSize {
		return errors.BadParam("Header", "WriteHeader", fmt.Sprintf("header size %d exceeds %d", len(body), MaxHeaderSize))
	}
	return WriteFrame(w, body)
}

// ReadHeader reads one length-prefixed header block
func ReadHeader(r io.Reader) (Header, error) {
	body, err := ReadFrame(r, MaxHeaderSize)
	if err != nil {
		return Header{}, err
	}
	return DecodeHeader(body)
}

// TypeChecksum derives the default compatibility token for a data type name
func TypeChecksum(dataType string) string {
	if dataType == Wildcard {
		return Wildcard
	}
	sum := sha256.Sum256([]byte(dataType))
	return hex.EncodeToString(sum[:16])
}

func compatible(a, b string) bool {
	return a == b || a == Wildcard || b == Wildcard
}

// errMismatch marks causes that are type-compatibility failures
type errMismatch struct {
	msg string
}

func (e *errMismatch) Error() string { return e.msg }
func (e *errMismatch) Unwrap() error { return errors.ErrTypeMismatch }

func isMismatch(err error) bool {
	return stderrors.Is(err, errors.ErrTypeMismatch)
}

// Negotiate compares the local header with the peer's and fails closed on any
// incompatibility. Every failure matches errors.ErrHandshakeFailed; type and
// checksum disagreements also match errors.ErrTypeMismatch.
func Negotiate(local, remote Header) error {
	if remote.Error != "" {
		return errors.Handshake(fmt.Errorf("rejected by peer %s: %s", remote.CallerID, remote.Error), "Header", "Negotiate")
	}
	if remote.DataType == "" {
		return errors.Handshake(stderrors.New("peer header missing data type"), "Header", "Negotiate")
	}
	if !compatible(local.DataType, remote.DataType) {
		return errors.Handshake(&errMismatch{fmt.Sprintf("data type %q does not match peer %q", local.DataType, remote.DataType)},
			"Header", "Negotiate")
	}
	if local.Checksum != "" && remote.Checksum != "" && !compatible(local.Checksum, remote.Checksum) {
		return errors.Handshake(&errMismatch{fmt.Sprintf("checksum %s does not match peer %s", local.Checksum, remote.Checksum)},
			"Header", "Negotiate")
	}
	if local.Marshaling != "" && remote.Marshaling != "" && local.Marshaling != remote.Marshaling {
		return errors.Handshake(&errMismatch{fmt.Sprintf("marshaling %q does not match peer %q", local.Marshaling, remote.Marshaling)},
			"Header", "Negotiate")
	}
	if local.Topic != "" && remote.Topic != "" && local.Topic != remote.Topic {
		return errors.Handshake(fmt.Errorf("topic %q does not match peer %q", local.Topic, remote.Topic), "Header", "Negotiate")
	}
	if local.Protocol != "" && remote.Protocol != "" && local.Protocol != remote.Protocol {
		return errors.Handshake(fmt.Errorf("protocol %q does not match peer %q", local.Protocol, remote.Protocol), "Header", "Negotiate")
	}
	return nil
}
