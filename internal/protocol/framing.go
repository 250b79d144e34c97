package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// HeaderSize is the length prefix in bytes: big-endian unsigned 32-bit.
	HeaderSize = 4

	// MaxFrameSize caps a single frame payload. Larger prefixes are rejected
	// before any allocation happens.
	MaxFrameSize = 100 << 20
)

// ErrConnectionClosed reports that the peer went away mid-frame or between
// frames. The read loop treats it as normal teardown, not a protocol error.
var ErrConnectionClosed = errors.New("connection closed")

// emptyObject is what a zero-length frame decodes to.
var emptyObject = json.RawMessage("{}")

// WriteMessage serializes v as JSON and writes it as one length-prefixed frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return Errorf(KindTransport, "message of %d bytes exceeds frame limit", len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", ErrConnectionClosed)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame and returns the raw JSON payload.
// A zero-length frame is a valid empty object. Oversized prefixes are a
// transport error; a closed or half-read socket surfaces ErrConnectionClosed.
func ReadMessage(r io.Reader) (json.RawMessage, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, ErrConnectionClosed
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return emptyObject, nil
	}
	if length > MaxFrameSize {
		return nil, Errorf(KindTransport, "frame of %d bytes exceeds limit of %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrConnectionClosed
	}
	return payload, nil
}

// IsClosed reports whether err means the peer is gone rather than misbehaving.
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
