// Package websocket carries calls as framed binary messages over
// WebSocket connections. Calls are multiplexed the same way as the tcp
// transport.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/najoast/yarpc/network"
	"github.com/najoast/yarpc/peer"
	"github.com/najoast/yarpc/transport"
)

// TransportName is the name reported by websocket inbounds and outbounds.
const TransportName = "websocket"

// Config holds options shared by inbounds and outbounds.
type Config struct {
	// Address to listen on (inbound)
	Address string

	// Path the upgrade handler is served on
	Path string

	// Largest frame payload accepted
	MaxPayload int

	// Write deadline per message
	WriteTimeout time.Duration

	// Handshake timeout (outbound)
	HandshakeTimeout time.Duration
}

// DefaultConfig returns default websocket settings.
func DefaultConfig() Config {
	return Config{
		Address:          "127.0.0.1:0",
		Path:             "/",
		MaxPayload:       network.DefaultMaxPayload,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (c Config) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// Inbound serves a Router over WebSocket connections.
type Inbound struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	conns    sync.WaitGroup
	done     chan struct{}
}

// NewInbound creates an inbound listening on cfg.Address.
func NewInbound(cfg Config, logger *zap.Logger) *Inbound {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbound{
		cfg:    cfg,
		logger: logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Name returns "websocket".
func (i *Inbound) Name() string { return TransportName }

// Start begins listening and serving router.
func (i *Inbound) Start(_ context.Context, router transport.Router) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.server != nil {
		return fmt.Errorf("websocket inbound already started")
	}

	listener, err := net.Listen("tcp", i.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", i.cfg.Address, err)
	}

	i.ctx, i.cancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.Handle(i.cfg.path(), i.handler(i.ctx, router))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Error("websocket server failed", zap.Error(err))
		}
	}()

	i.server = server
	i.listener = listener
	i.done = done
	i.logger.Info("websocket inbound listening",
		zap.String("address", listener.Addr().String()), zap.String("path", i.cfg.path()))
	return nil
}

// handler upgrades each request and serves frames until the connection ends.
func (i *Inbound) handler(ctx context.Context, router transport.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i.conns.Add(1)
		defer i.conns.Done()

		if ctx.Err() != nil {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}

		ws, err := i.upgrader.Upgrade(w, r, nil)
		if err != nil {
			i.logger.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}

		c := newConn(ws, i.cfg.MaxPayload, i.cfg.WriteTimeout)
		defer c.Close()

		if err := network.ServeConn(ctx, c, router, i.logger); err != nil {
			i.logger.Debug("connection ended", zap.String("remote", c.RemoteAddr()), zap.Error(err))
		}
	})
}

// Stop closes every connection and shuts the server down.
func (i *Inbound) Stop(ctx context.Context) error {
	i.mu.Lock()
	server, cancel, done := i.server, i.cancel, i.done
	i.server = nil
	i.mu.Unlock()

	if server == nil {
		return nil
	}

	cancel()
	err := server.Shutdown(ctx)
	if err != nil {
		server.Close()
	}
	<-done

	waited := make(chan struct{})
	go func() {
		i.conns.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Addr returns the bound listen address, or the configured one before Start.
func (i *Inbound) Addr() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.listener != nil {
		return i.listener.Addr().String()
	}
	return i.cfg.Address
}

// Outbound sends calls to one of a set of WebSocket peers. A peer address
// is either host:port or a ws:// or wss:// URL.
type Outbound struct {
	chooser peer.Chooser
	pool    *network.Pool
}

// NewOutbound creates an outbound that picks peers with chooser.
func NewOutbound(chooser peer.Chooser, cfg Config, logger *zap.Logger) *Outbound {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	dial := func(ctx context.Context, address string) (network.FrameConn, error) {
		ws, resp, err := dialer.DialContext(ctx, peerURL(address, cfg.path()), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return newConn(ws, cfg.MaxPayload, cfg.WriteTimeout), nil
	}

	return &Outbound{
		chooser: chooser,
		pool:    network.NewPool(dial, logger.Named("websocket")),
	}
}

// peerURL turns a peer address into a WebSocket URL.
func peerURL(address, path string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + address + path
}

// Name returns "websocket".
func (o *Outbound) Name() string { return TransportName }

// Start is a no-op; connections are opened on the first call to each peer.
func (o *Outbound) Start(context.Context) error { return nil }

// Stop closes all connections. Pending calls fail with unavailable.
func (o *Outbound) Stop(context.Context) error {
	return o.pool.Close()
}

// Call sends req to a chosen peer.
func (o *Outbound) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	p, done, err := o.chooser.Choose(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	return o.pool.Call(ctx, p.Address, req)
}
