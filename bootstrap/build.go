package bootstrap

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/najoast/yarpc/config"
	"github.com/najoast/yarpc/journal"
	"github.com/najoast/yarpc/middleware"
	"github.com/najoast/yarpc/network"
	"github.com/najoast/yarpc/peer"
	"github.com/najoast/yarpc/transport"
	yhttp "github.com/najoast/yarpc/transport/http"
	"github.com/najoast/yarpc/transport/tcp"
	"github.com/najoast/yarpc/transport/websocket"
)

// BuildInbounds creates the inbounds enabled in cfg, in tcp, http,
// websocket order.
func BuildInbounds(cfg config.InboundsConfig, logger *zap.Logger) []transport.Inbound {
	var inbounds []transport.Inbound

	if c := cfg.TCP; c != nil {
		ncfg := network.DefaultConfig()
		ncfg.Address = c.Address
		ncfg.MaxConnections = c.MaxConnections
		ncfg.ReadTimeout = c.ReadTimeout
		if c.WriteTimeout > 0 {
			ncfg.WriteTimeout = c.WriteTimeout
		}
		inbounds = append(inbounds, tcp.NewInbound(ncfg, logger))
	}

	if c := cfg.HTTP; c != nil {
		var opts []yhttp.InboundOption
		if c.MaxBodySize > 0 {
			opts = append(opts, yhttp.WithMaxBodySize(c.MaxBodySize))
		}
		if c.ReadTimeout > 0 {
			opts = append(opts, yhttp.WithReadTimeout(c.ReadTimeout))
		}
		inbounds = append(inbounds, yhttp.NewInbound(c.Address, logger, opts...))
	}

	if c := cfg.WebSocket; c != nil {
		wcfg := websocket.DefaultConfig()
		wcfg.Address = c.Address
		if c.Path != "" {
			wcfg.Path = c.Path
		}
		inbounds = append(inbounds, websocket.NewInbound(wcfg, logger))
	}

	return inbounds
}

// BuildOutbound creates the outbound reaching one service.
func BuildOutbound(service string, cfg config.OutboundConfig, logger *zap.Logger) (transport.Outbound, error) {
	strategy, err := peer.ParseStrategy(cfg.Chooser)
	if err != nil {
		return nil, fmt.Errorf("outbound %q: %w", service, err)
	}
	chooser, err := peer.New(strategy, cfg.Peers...)
	if err != nil {
		return nil, fmt.Errorf("outbound %q: %w", service, err)
	}

	logger = logger.With(zap.String("outbound", service))
	switch strings.ToLower(cfg.Transport) {
	case config.TransportTCP:
		return tcp.NewOutbound(chooser, network.DefaultConfig(), logger), nil
	case config.TransportHTTP:
		return yhttp.NewOutbound(chooser, yhttp.WithLogger(logger)), nil
	case config.TransportWebSocket:
		wcfg := websocket.DefaultConfig()
		if cfg.Path != "" {
			wcfg.Path = cfg.Path
		}
		return websocket.NewOutbound(chooser, wcfg, logger), nil
	default:
		return nil, fmt.Errorf("outbound %q: unknown transport %q", service, cfg.Transport)
	}
}

// BuildOutbounds creates every outbound in cfg.
func BuildOutbounds(cfg map[string]config.OutboundConfig, logger *zap.Logger) (map[string]transport.Outbound, error) {
	services := make([]string, 0, len(cfg))
	for service := range cfg {
		services = append(services, service)
	}
	sort.Strings(services)

	outbounds := make(map[string]transport.Outbound, len(cfg))
	for _, service := range services {
		out, err := BuildOutbound(service, cfg[service], logger)
		if err != nil {
			return nil, err
		}
		outbounds[service] = out
	}
	return outbounds, nil
}

// BuildMiddleware returns the inbound and outbound middleware chains cfg
// enables, outermost first. A nil store disables journaling.
func BuildMiddleware(cfg config.MiddlewareConfig, store journal.Store, logger *zap.Logger) ([]transport.InboundMiddleware, []transport.OutboundMiddleware) {
	var (
		in  []transport.InboundMiddleware
		out []transport.OutboundMiddleware
	)

	if cfg.RequestID {
		in = append(in, middleware.RequestID())
		out = append(out, middleware.OutboundRequestID())
	}
	if cfg.Logging {
		in = append(in, middleware.Logging(logger))
		out = append(out, middleware.OutboundLogging(logger))
	}
	if cfg.RateLimit.Limit > 0 {
		in = append(in, middleware.RateLimit(rate.Limit(cfg.RateLimit.Limit), cfg.RateLimit.Burst))
	}
	if store != nil {
		in = append(in, journal.InboundMiddleware(store, logger))
		out = append(out, journal.OutboundMiddleware(store, logger))
	}
	if cfg.Retry.Attempts > 1 {
		out = append(out, middleware.Retry(middleware.RetryPolicy{
			Attempts:   cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		}))
	}

	return in, out
}
