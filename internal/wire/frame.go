// Package wire defines the length-prefixed binary frame codec and the
// Request/Response message set shared by every transport (local Unix
// socket, remote WebSocket, fleet bus). A Control frame carries UTF-8 JSON;
// a Data frame carries opaque bytes (PTY output in either direction).
//
// Wire format on a byte stream: kind:u8 | length:u32 big-endian | payload.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame kinds.
const (
	KindControl byte = 0x00
	KindData    byte = 0x01
)

// MaxPayload is the largest frame payload accepted on any transport.
// Frames declaring a larger length are a fatal protocol error on that
// connection.
const MaxPayload = 16 << 20 // 16 MiB

// WriteFrame writes a single framed message to w, flushing the complete
// frame before returning.
func WriteFrame(w io.Writer, kind byte, payload []byte) error {
	hdr := make([]byte, 5)
	hdr[0] = kind
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads a single framed message from r. Returns io.EOF when the
// stream ends cleanly between frames (orderly close).
func ReadFrame(r io.Reader) (byte, []byte, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}

	kind := hdr[0]
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > MaxPayload {
		return 0, nil, fmt.Errorf("%w: frame payload too large: %d bytes", ErrTransportProtocol, n)
	}
	if kind != KindControl && kind != KindData {
		return 0, nil, fmt.Errorf("%w: unknown frame kind: 0x%02x", ErrTransportProtocol, kind)
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return kind, payload, nil
}

// Conn is a transport-agnostic framed connection. Local sockets implement it
// directly over the byte-stream codec above; WebSocket connections adapt
// their Text/Binary message split onto the same Kind vocabulary (see
// wsframe.go).
type Conn interface {
	ReadFrame() (kind byte, payload []byte, err error)
	WriteFrame(kind byte, payload []byte) error
	Close() error
}

// StreamConn adapts any io.ReadWriteCloser (a Unix domain socket, for
// instance) to Conn using the byte-stream frame codec.
type StreamConn struct {
	rwc io.ReadWriteCloser
}

// NewStreamConn wraps rwc as a framed Conn.
func NewStreamConn(rwc io.ReadWriteCloser) *StreamConn {
	return &StreamConn{rwc: rwc}
}

func (c *StreamConn) ReadFrame() (byte, []byte, error) { return ReadFrame(c.rwc) }

func (c *StreamConn) WriteFrame(kind byte, payload []byte) error {
	return WriteFrame(c.rwc, kind, payload)
}

func (c *StreamConn) Close() error { return c.rwc.Close() }
