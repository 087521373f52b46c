package websocket

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/najoast/yarpc/network"
)

// conn carries one frame per binary WebSocket message.
type conn struct {
	ws     *websocket.Conn
	codec  *network.FrameCodec
	writeT time.Duration

	writeMu sync.Mutex
	closed  int32
}

func newConn(ws *websocket.Conn, maxPayload int, writeTimeout time.Duration) *conn {
	if maxPayload <= 0 {
		maxPayload = network.DefaultMaxPayload
	}
	ws.SetReadLimit(int64(network.FrameHeaderSize + maxPayload))
	return &conn{ws: ws, codec: network.NewFrameCodec(maxPayload), writeT: writeTimeout}
}

// ReadFrame reads the next binary message. A normal close reads as io.EOF.
func (c *conn) ReadFrame() (*network.Frame, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				atomic.LoadInt32(&c.closed) == 1 {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return c.codec.Decode(data)
	}
}

// WriteFrame sends f as one binary message. Writes are serialised.
func (c *conn) WriteFrame(f *network.Frame) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return fmt.Errorf("websocket connection to %s is closed", c.RemoteAddr())
	}

	data, err := c.codec.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeT > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeT))
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close message and closes the connection. Close is idempotent.
func (c *conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	if cerr := c.ws.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// RemoteAddr returns the peer address.
func (c *conn) RemoteAddr() string {
	if addr := c.ws.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
