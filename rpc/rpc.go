package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/yarpc/dispatch"
	"github.com/najoast/yarpc/loop"
	"github.com/najoast/yarpc/transport"
)

const (
	stateIdle int32 = iota
	stateStarting
	stateRunning
	stateStopped
)

// RPC is a service's view of the network: the procedures it serves and
// the services it calls.
type RPC struct {
	cfg        Config
	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	loop       *loop.Loop

	// outbounds as configured, used for Start and Stop
	outbounds map[string]transport.Outbound

	// outbounds wrapped with middleware, used for calls
	wrapped map[string]transport.Outbound

	state int32

	channelsMu sync.Mutex
	channels   map[string]*Channel
}

// New creates an RPC. The meta::procedures and meta::health procedures are
// registered under the RPC's service.
func New(cfg Config) (*RPC, error) {
	if cfg.Service == "" {
		return nil, ErrServiceRequired
	}
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("default TTL must not be negative: %s", cfg.DefaultTTL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("service", cfg.Service))

	for i, in := range cfg.Inbounds {
		if in == nil {
			return nil, fmt.Errorf("inbound %d is nil", i)
		}
	}

	outbounds := make(map[string]transport.Outbound, len(cfg.Outbounds))
	wrapped := make(map[string]transport.Outbound, len(cfg.Outbounds))
	for service, out := range cfg.Outbounds {
		if service == "" {
			return nil, fmt.Errorf("outbound with empty service name")
		}
		if out == nil {
			return nil, fmt.Errorf("outbound for service %q is nil", service)
		}
		outbounds[service] = out
		wrapped[service] = transport.ApplyOutbound(out, cfg.OutboundMiddleware...)
	}

	loopOpts := cfg.Loop
	if loopOpts.Name == "" {
		loopOpts.Name = cfg.Service
	}

	r := &RPC{
		cfg:    cfg,
		logger: logger,
		dispatcher: dispatch.New(
			dispatch.WithLogger(logger),
			dispatch.WithMiddleware(cfg.InboundMiddleware...),
			dispatch.WithDefaultTTL(cfg.DefaultTTL),
		),
		loop:      loop.New(loopOpts),
		outbounds: outbounds,
		wrapped:   wrapped,
		channels:  make(map[string]*Channel),
	}

	if err := r.dispatcher.Register(r.metaProcedures()...); err != nil {
		return nil, err
	}
	return r, nil
}

// Service returns the RPC's own service name.
func (r *RPC) Service() string {
	return r.cfg.Service
}

// Dispatcher returns the dispatcher serving this RPC's procedures.
func (r *RPC) Dispatcher() *dispatch.Dispatcher {
	return r.dispatcher
}

// Inbounds returns the configured inbounds.
func (r *RPC) Inbounds() []transport.Inbound {
	return append([]transport.Inbound(nil), r.cfg.Inbounds...)
}

// OutboundServices returns the services reachable through outbounds, sorted.
func (r *RPC) OutboundServices() []string {
	services := make([]string, 0, len(r.outbounds))
	for s := range r.outbounds {
		services = append(services, s)
	}
	sort.Strings(services)
	return services
}

// LoopStats returns statistics of the event loop running outgoing calls.
func (r *RPC) LoopStats() loop.Stats {
	return r.loop.Stats()
}

// Register adds procedures to the dispatcher. Procedures without a
// service are registered under the RPC's own service.
func (r *RPC) Register(procs ...transport.Procedure) error {
	owned := make([]transport.Procedure, len(procs))
	for i, p := range procs {
		if p.Service == "" {
			p.Service = r.cfg.Service
		}
		owned[i] = p
	}
	return r.dispatcher.Register(owned...)
}

// RegisterHandler registers h as a raw procedure of the RPC's service.
func (r *RPC) RegisterHandler(name string, h transport.Handler) error {
	return r.Register(transport.Procedure{
		Service:  r.cfg.Service,
		Name:     name,
		Encoding: transport.EncodingRaw,
		Handler:  h,
	})
}

// Channel returns a channel calling service through its outbound.
func (r *RPC) Channel(service string) (*Channel, error) {
	out, ok := r.wrapped[service]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoOutbound, service)
	}

	r.channelsMu.Lock()
	defer r.channelsMu.Unlock()

	if ch, ok := r.channels[service]; ok {
		return ch, nil
	}
	ch := &Channel{
		caller:     r.cfg.Service,
		service:    service,
		outbound:   out,
		loop:       r.loop,
		defaultTTL: r.cfg.DefaultTTL,
	}
	r.channels[service] = ch
	return ch, nil
}

// Start starts the event loop, then the outbounds, then the inbounds.
// When any of them fails, everything already started is stopped again.
func (r *RPC) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.state, stateIdle, stateStarting) {
		return ErrAlreadyStarted
	}

	if err := r.loop.Start(); err != nil {
		atomic.StoreInt32(&r.state, stateStopped)
		return fmt.Errorf("failed to start event loop: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for service, out := range r.outbounds {
		service, out := service, out
		g.Go(func() error {
			if err := out.Start(gctx); err != nil {
				return fmt.Errorf("failed to start %s outbound for service %q: %w", out.Name(), service, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.rollback(ctx, nil)
		return err
	}

	var started []transport.Inbound
	for _, in := range r.cfg.Inbounds {
		if err := in.Start(ctx, r.dispatcher); err != nil {
			r.rollback(ctx, started)
			return fmt.Errorf("failed to start %s inbound: %w", in.Name(), err)
		}
		started = append(started, in)
		r.logger.Info("inbound started", zap.String("transport", in.Name()), zap.String("address", in.Addr()))
	}

	atomic.StoreInt32(&r.state, stateRunning)
	r.logger.Info("rpc started",
		zap.Int("inbounds", len(r.cfg.Inbounds)),
		zap.Strings("outbounds", r.OutboundServices()),
		zap.Int("procedures", len(r.dispatcher.Procedures())))
	return nil
}

// rollback stops what a failed Start had started.
func (r *RPC) rollback(ctx context.Context, inbounds []transport.Inbound) {
	for i := len(inbounds) - 1; i >= 0; i-- {
		if err := inbounds[i].Stop(ctx); err != nil {
			r.logger.Warn("failed to stop inbound during rollback", zap.Error(err))
		}
	}
	for service, out := range r.outbounds {
		if err := out.Stop(ctx); err != nil {
			r.logger.Warn("failed to stop outbound during rollback",
				zap.String("target", service), zap.Error(err))
		}
	}
	if err := r.loop.Stop(ctx); err != nil {
		r.logger.Warn("failed to stop event loop during rollback", zap.Error(err))
	}
	atomic.StoreInt32(&r.state, stateStopped)
}

// Stop stops the inbounds, then the outbounds, then the event loop. All
// components are stopped even when some fail; their errors are joined.
func (r *RPC) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.state, stateRunning, stateStopped) {
		return nil
	}

	var errs []error
	for i := len(r.cfg.Inbounds) - 1; i >= 0; i-- {
		in := r.cfg.Inbounds[i]
		if err := in.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s inbound: %w", in.Name(), err))
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for service, out := range r.outbounds {
		service, out := service, out
		g.Go(func() error {
			if err := out.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to stop outbound for service %q: %w", service, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if err := r.loop.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("rpc stopped")
	return errors.Join(errs...)
}
