package rpc

import (
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/loop"
	"github.com/najoast/yarpc/transport"
)

// Config describes an RPC.
type Config struct {
	// Service is the name of this process's service
	Service string

	// Inbounds serve the dispatcher
	Inbounds []transport.Inbound

	// Outbounds keyed by the name of the service they reach
	Outbounds map[string]transport.Outbound

	// Middleware applied to every served procedure, first is outermost
	InboundMiddleware []transport.InboundMiddleware

	// Middleware applied to every outbound, first is outermost
	OutboundMiddleware []transport.OutboundMiddleware

	// Event loop running outgoing calls
	Loop loop.Options

	// TTL applied to calls that set none, in both directions; zero means none
	DefaultTTL time.Duration

	// Logger defaults to a no-op logger
	Logger *zap.Logger
}
