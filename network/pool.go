package network

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/najoast/yarpc/transport"
)

// DialFunc opens a frame connection to address.
type DialFunc func(ctx context.Context, address string) (FrameConn, error)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("client pool closed")

// Pool keeps one multiplexed Client per address, dialling lazily and
// redialling once a connection has failed. Dials to one address are
// shared and never block calls to other addresses.
type Pool struct {
	dial   DialFunc
	logger *zap.Logger
	dials  singleflight.Group

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewPool creates a pool that opens connections with dial.
func NewPool(dial DialFunc, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		dial:    dial,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Get returns a live client for address.
func (p *Pool) Get(ctx context.Context, address string) (*Client, error) {
	c, err := p.cached(address)
	if c != nil || err != nil {
		return c, err
	}

	ch := p.dials.DoChan(address, func() (interface{}, error) {
		return p.connect(ctx, address)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, transport.Errorf(transport.CodeUnavailable, "failed to dial %s: %v", address, ctx.Err())
	}
}

// cached returns the live client for address, if any, dropping a failed one.
func (p *Pool) cached(address string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	c, ok := p.clients[address]
	if !ok {
		return nil, nil
	}
	select {
	case <-c.Done():
		p.logger.Debug("redialling failed connection",
			zap.String("address", address), zap.Error(c.Err()))
		delete(p.clients, address)
		return nil, nil
	default:
		return c, nil
	}
}

// connect dials address and stores the new client. It runs once per
// address at a time.
func (p *Pool) connect(ctx context.Context, address string) (*Client, error) {
	if c, err := p.cached(address); c != nil || err != nil {
		return c, err
	}

	conn, err := p.dial(ctx, address)
	if err != nil {
		return nil, transport.Errorf(transport.CodeUnavailable, "failed to dial %s: %v", address, err)
	}
	c := NewClient(conn, p.logger)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return nil, ErrPoolClosed
	}
	p.clients[address] = c
	return c, nil
}

// Call sends req to address over the pooled client.
func (p *Pool) Call(ctx context.Context, address string, req *transport.Request) (*transport.Response, error) {
	c, err := p.Get(ctx, address)
	if err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return nil, transport.Errorf(transport.CodeUnavailable, "outbound is stopped")
		}
		return nil, err
	}
	return c.Call(ctx, req)
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close closes every client. Pending calls fail with unavailable.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
