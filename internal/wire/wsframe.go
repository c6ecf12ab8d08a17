package wire

import (
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla/websocket connection to Conn: a Control frame is
// one TextMessage carrying the JSON payload; a Data frame is one
// BinaryMessage carrying the raw bytes.
// Ping/Pong are handled by the gorilla library and never surfaced here; a
// Close message is reported as io.EOF, matching StreamConn's orderly-close
// semantics so callers need no transport-specific handling.
type WSConn struct {
	ws *websocket.Conn

	// gorilla/websocket connections require writes to be serialized by the
	// caller; concurrent writers (attach bridge's output forwarder and the
	// dispatcher's own responses) share this mutex.
	writeMu sync.Mutex
}

// NewWSConn wraps an upgraded/dialed websocket.Conn as a framed Conn.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) ReadFrame() (byte, []byte, error) {
	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch msgType {
		case websocket.TextMessage:
			return KindControl, payload, nil
		case websocket.BinaryMessage:
			return KindData, payload, nil
		case websocket.CloseMessage:
			return 0, nil, io.EOF
		default:
			// Ping/Pong are handled internally by gorilla/websocket; skip any
			// other unexpected message type and keep reading.
			continue
		}
	}
}

func (c *WSConn) WriteFrame(kind byte, payload []byte) error {
	var msgType int
	switch kind {
	case KindControl:
		msgType = websocket.TextMessage
	case KindData:
		msgType = websocket.BinaryMessage
	default:
		return fmt.Errorf("%w: unknown frame kind 0x%02x", ErrTransportProtocol, kind)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(msgType, payload)
}

func (c *WSConn) Close() error {
	return c.ws.Close()
}
