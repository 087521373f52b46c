package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// FrameConn is a bidirectional frame stream. TCP and WebSocket connections
// both implement it.
type FrameConn interface {
	// ReadFrame blocks until the next frame arrives.
	// It must not be called concurrently.
	ReadFrame() (*Frame, error)

	// WriteFrame writes a frame. It is safe for concurrent use.
	WriteFrame(f *Frame) error

	// Close closes the connection. It is idempotent.
	Close() error

	// RemoteAddr describes the peer.
	RemoteAddr() string
}

// Conn is a FrameConn over a stream connection such as TCP.
type Conn struct {
	id    string
	conn  net.Conn
	codec *FrameCodec

	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  int32 // atomic flag

	// Statistics
	framesRead    uint64
	framesWritten uint64
	bytesRead     uint64
	bytesWritten  uint64
	lastActivity  int64 // Unix nanoseconds
}

// connectionIDCounter generates unique connection IDs
var connectionIDCounter uint64

// NewConn wraps a stream connection.
func NewConn(conn net.Conn, cfg Config) *Conn {
	return &Conn{
		id:           fmt.Sprintf("conn-%d", atomic.AddUint64(&connectionIDCounter, 1)),
		conn:         conn,
		codec:        NewFrameCodec(cfg.MaxPayload),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		lastActivity: time.Now().UnixNano(),
	}
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ReadFrame reads the next frame, applying the read timeout if configured.
func (c *Conn) ReadFrame() (*Frame, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	f, err := c.codec.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}

	atomic.AddUint64(&c.framesRead, 1)
	atomic.AddUint64(&c.bytesRead, uint64(f.Size()))
	c.touch()
	return f, nil
}

// WriteFrame writes a frame. Writes are serialised.
func (c *Conn) WriteFrame(f *Frame) error {
	if c.IsClosed() {
		return fmt.Errorf("connection %s is closed", c.id)
	}

	data, err := c.codec.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	n, err := c.conn.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	atomic.AddUint64(&c.framesWritten, 1)
	atomic.AddUint64(&c.bytesWritten, uint64(n))
	c.touch()
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

// Stats returns connection statistics.
func (c *Conn) Stats() ConnStats {
	return ConnStats{
		ID:            c.id,
		RemoteAddr:    c.RemoteAddr(),
		FramesRead:    atomic.LoadUint64(&c.framesRead),
		FramesWritten: atomic.LoadUint64(&c.framesWritten),
		BytesRead:     atomic.LoadUint64(&c.bytesRead),
		BytesWritten:  atomic.LoadUint64(&c.bytesWritten),
		LastActivity:  time.Unix(0, atomic.LoadInt64(&c.lastActivity)),
	}
}

func (c *Conn) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

// ConnStats holds statistics for a connection.
type ConnStats struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	FramesRead    uint64    `json:"frames_read"`
	FramesWritten uint64    `json:"frames_written"`
	BytesRead     uint64    `json:"bytes_read"`
	BytesWritten  uint64    `json:"bytes_written"`
	LastActivity  time.Time `json:"last_activity"`
}

// String returns the string representation of connection statistics.
func (s ConnStats) String() string {
	return fmt.Sprintf("Conn[%s] Remote=%s FramesR/W=%d/%d BytesR/W=%d/%d LastActivity=%s",
		s.ID, s.RemoteAddr, s.FramesRead, s.FramesWritten, s.BytesRead, s.BytesWritten,
		s.LastActivity.Format(time.RFC3339))
}
