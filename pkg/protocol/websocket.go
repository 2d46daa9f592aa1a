package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla WebSocket connection to Conn. Each text or binary
// frame is one message.
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps ws and bounds inbound frames to maxMessage bytes.
func NewWSConn(ws *websocket.Conn, maxMessage int, writeTimeout time.Duration) *WSConn {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessage
	}
	ws.SetReadLimit(int64(maxMessage))
	return &WSConn{ws: ws, writeTimeout: writeTimeout}
}

// Recv returns the payload of the next data frame.
func (c *WSConn) Recv() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return trimEOL(data), nil
		}
	}
}

// Send writes msg as one text frame.
func (c *WSConn) Send(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("protocol: ws set write deadline: %w", err)
		}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("protocol: ws write: %w", err)
	}
	return nil
}

// SetReadDeadline bounds the next Recv.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close sends a best-effort close frame and closes the socket once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		// skip the close frame when a Send is stuck on a slow peer
		if c.wmu.TryLock() {
			deadline := time.Now().Add(time.Second)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			c.wmu.Unlock()
		}
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func isWSClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
