package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/transport"
)

// Client multiplexes calls over one FrameConn, correlating responses to
// requests by frame id.
type Client struct {
	conn   FrameConn
	logger *zap.Logger

	nextID  uint64
	mu      sync.Mutex
	pending map[uint64]chan *Frame

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// NewClient starts reading responses from conn.
func NewClient(conn FrameConn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan *Frame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends req and waits for its response. When req has no TTL the
// remaining time of ctx is sent instead.
func (c *Client) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req.TTL == 0 {
		if deadline, ok := ctx.Deadline(); ok {
			r := *req
			r.TTL = time.Until(deadline)
			if r.TTL <= 0 {
				return nil, transport.Errorf(transport.CodeTimeout,
					"deadline exceeded before calling %q", req.Procedure)
			}
			req = &r
		}
	}

	id := atomic.AddUint64(&c.nextID, 1)
	f, err := RequestFrame(id, req)
	if err != nil {
		return nil, transport.Errorf(transport.CodeBadRequest, "%v", err)
	}

	resp, err := c.roundTrip(ctx, f)
	if err != nil {
		return nil, c.callError(ctx, req, err)
	}
	return DecodeResponse(resp)
}

// Ping sends a ping frame and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	id := atomic.AddUint64(&c.nextID, 1)
	_, err := c.roundTrip(ctx, &Frame{Type: FramePing, ID: id})
	if err != nil {
		return c.callError(ctx, &transport.Request{Procedure: "ping"}, err)
	}
	return nil
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed when the connection fails or is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection and fails all pending calls.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(errClientClosed)
	return err
}

var errClientClosed = errors.New("client closed")

// roundTrip writes f and waits for the frame answering it.
func (c *Client) roundTrip(ctx context.Context, f *Frame) (*Frame, error) {
	ch := make(chan *Frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.conn.WriteFrame(f); err != nil {
		c.forget(f.ID)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.forget(f.ID)
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.err
	}
}

// callError converts a round trip failure into a transport error.
func (c *Client) callError(ctx context.Context, req *transport.Request, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return transport.Errorf(transport.CodeTimeout,
			"call to procedure %q of service %q timed out", req.Procedure, req.Service)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return transport.Errorf(transport.CodeUnavailable,
			"connection to %s failed: %v", c.conn.RemoteAddr(), err)
	}
}

// forget drops a pending call.
func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop delivers incoming frames to pending calls.
func (c *Client) readLoop() {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			c.conn.Close()
			c.shutdown(err)
			return
		}

		switch f.Type {
		case FrameResponse, FrameError, FramePong:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()

			if !ok {
				c.logger.Debug("dropping frame for unknown call",
					zap.Uint64("id", f.ID), zap.Stringer("type", f.Type))
				continue
			}
			ch <- f

		case FramePing:
			if err := c.conn.WriteFrame(&Frame{Type: FramePong, ID: f.ID}); err != nil {
				c.logger.Debug("failed to answer ping", zap.Error(err))
			}

		default:
			c.logger.Warn("unexpected frame on client connection",
				zap.Stringer("type", f.Type), zap.String("remote", c.conn.RemoteAddr()))
		}
	}
}

// shutdown records the terminal error once and wakes every pending call.
func (c *Client) shutdown(err error) {
	c.errOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[uint64]chan *Frame)
		close(c.done)
		c.mu.Unlock()
	})
}
