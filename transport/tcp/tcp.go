// Package tcp carries calls as framed messages over TCP connections.
package tcp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/network"
	"github.com/najoast/yarpc/peer"
	"github.com/najoast/yarpc/transport"
)

// TransportName is the name reported by tcp inbounds and outbounds.
const TransportName = "tcp"

// Inbound serves a Router over framed TCP connections.
type Inbound struct {
	cfg    network.Config
	logger *zap.Logger

	mu     sync.Mutex
	server *network.Server
}

// NewInbound creates an inbound listening on cfg.Address.
func NewInbound(cfg network.Config, logger *zap.Logger) *Inbound {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbound{cfg: cfg, logger: logger.Named("tcp")}
}

// Name returns "tcp".
func (i *Inbound) Name() string { return TransportName }

// Start begins listening and serving router.
func (i *Inbound) Start(_ context.Context, router transport.Router) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.server != nil {
		return fmt.Errorf("tcp inbound already started")
	}

	server := network.NewServer(i.cfg, func(ctx context.Context, conn *network.Conn) {
		if err := network.ServeConn(ctx, conn, router, i.logger); err != nil {
			i.logger.Debug("connection ended",
				zap.String("remote", conn.RemoteAddr()), zap.Error(err))
		}
	}, i.logger)

	if err := server.Start(); err != nil {
		return err
	}
	i.server = server
	return nil
}

// Stop closes the listener and every connection.
func (i *Inbound) Stop(ctx context.Context) error {
	i.mu.Lock()
	server := i.server
	i.server = nil
	i.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Stop(ctx)
}

// Addr returns the bound listen address, or the configured one before Start.
func (i *Inbound) Addr() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.server != nil {
		if addr := i.server.Addr(); addr != nil {
			return addr.String()
		}
	}
	return i.cfg.Address
}

// Outbound sends calls to one of a set of TCP peers.
type Outbound struct {
	chooser peer.Chooser
	pool    *network.Pool
}

// NewOutbound creates an outbound that picks peers with chooser.
func NewOutbound(chooser peer.Chooser, cfg network.Config, logger *zap.Logger) *Outbound {
	if logger == nil {
		logger = zap.NewNop()
	}
	dial := func(ctx context.Context, address string) (network.FrameConn, error) {
		return network.Dial(ctx, address, cfg)
	}
	return &Outbound{
		chooser: chooser,
		pool:    network.NewPool(dial, logger.Named("tcp")),
	}
}

// Name returns "tcp".
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
