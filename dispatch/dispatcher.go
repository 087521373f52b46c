package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/transport"
)

// procedureKey identifies a registered procedure.
type procedureKey struct {
	service   string
	procedure string
}

// entry is a registered procedure with its runtime statistics.
type entry struct {
	proc  transport.Procedure
	stats ProcedureStats
}

// ProcedureStats contains runtime statistics for a procedure.
type ProcedureStats struct {
	// Service and procedure name
	Service   string
	Procedure string

	// Total requests dispatched to the procedure
	Calls uint64

	// Requests that ended with an error
	Failures uint64

	// Time of the last dispatched request
	LastCallAt time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dispatch failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMiddleware adds inbound middleware applied to every procedure.
func WithMiddleware(mw ...transport.InboundMiddleware) Option {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, mw...)
	}
}

// WithDefaultTTL sets the deadline applied to requests that carry no TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.defaultTTL = ttl
	}
}

// Dispatcher routes requests to registered procedures.
// It implements transport.Router and is safe for concurrent use.
type Dispatcher struct {
	mu         sync.RWMutex
	procedures map[procedureKey]*entry
	services   map[string]int // service name -> procedure count

	middleware []transport.InboundMiddleware
	handler    transport.Handler // middleware around serve
	defaultTTL time.Duration
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		procedures: make(map[procedureKey]*entry),
		services:   make(map[string]int),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handler = transport.ApplyInbound(transport.HandlerFunc(d.serve), d.middleware...)
	return d
}

// Register adds procedures. Either all of them are registered or none is.
func (d *Dispatcher) Register(procs ...transport.Procedure) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[procedureKey]struct{}, len(procs))
	for _, p := range procs {
		if p.Service == "" || p.Name == "" {
			return fmt.Errorf("%w: service and name are required (service=%q, name=%q)",
				ErrInvalidProcedure, p.Service, p.Name)
		}
		if p.Handler == nil {
			return fmt.Errorf("%w: nil handler for %s::%s", ErrInvalidProcedure, p.Service, p.Name)
		}

		key := procedureKey{service: p.Service, procedure: p.Name}
		if _, exists := d.procedures[key]; exists {
			return fmt.Errorf("%w: %s::%s", ErrProcedureRegistered, p.Service, p.Name)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s::%s listed twice", ErrProcedureRegistered, p.Service, p.Name)
		}
		seen[key] = struct{}{}
	}

	for _, p := range procs {
		key := procedureKey{service: p.Service, procedure: p.Name}
		d.procedures[key] = &entry{
			proc:  p,
			stats: ProcedureStats{Service: p.Service, Procedure: p.Name},
		}
		d.services[p.Service]++
	}

	return nil
}

// Unregister removes a procedure.
func (d *Dispatcher) Unregister(service, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := procedureKey{service: service, procedure: name}
	if _, exists := d.procedures[key]; !exists {
		return fmt.Errorf("%w: %s::%s", ErrProcedureNotFound, service, name)
	}

	delete(d.procedures, key)
	if d.services[service]--; d.services[service] <= 0 {
		delete(d.services, service)
	}

	return nil
}

// Lookup finds a procedure.
func (d *Dispatcher) Lookup(service, name string) (transport.Procedure, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if e, exists := d.procedures[procedureKey{service: service, procedure: name}]; exists {
		return e.proc, true
	}
	return transport.Procedure{}, false
}

// Procedures returns all registered procedures ordered by service and name.
func (d *Dispatcher) Procedures() []transport.Procedure {
	d.mu.RLock()
	procs := make([]transport.Procedure, 0, len(d.procedures))
	for _, e := range d.procedures {
		procs = append(procs, e.proc)
	}
	d.mu.RUnlock()

	sort.Slice(procs, func(i, j int) bool {
		if procs[i].Service != procs[j].Service {
			return procs[i].Service < procs[j].Service
		}
		return procs[i].Name < procs[j].Name
	})
	return procs
}

// Services returns the names of all services with at least one procedure.
func (d *Dispatcher) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns per-procedure statistics ordered like Procedures.
func (d *Dispatcher) Stats() []ProcedureStats {
	d.mu.RLock()
	stats := make([]ProcedureStats, 0, len(d.procedures))
	for _, e := range d.procedures {
		stats = append(stats, e.stats)
	}
	d.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Service != stats[j].Service {
			return stats[i].Service < stats[j].Service
		}
		return stats[i].Procedure < stats[j].Procedure
	})
	return stats
}

// Handle resolves and runs the procedure addressed by req.
//
// Middleware sees every request, including ones that fail validation or
// name an unknown procedure, and always receives a *transport.Error: the
// procedure's panics and plain errors are classified before they reach it.
func (d *Dispatcher) Handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil {
		return nil, req.Validate()
	}

	resp, err := d.invoke(ctx, d.handler, req)
	if err != nil {
		return nil, d.classify(ctx, req, err)
	}
	if resp == nil {
		resp = &transport.Response{}
	}
	return resp, nil
}

// serve is the innermost handler under the middleware.
func (d *Dispatcher) serve(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	proc, err := d.resolve(req)
	if err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = d.defaultTTL
	}
	if ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}

	resp, err := d.invoke(ctx, proc.Handler, req)
	d.record(req, err)
	if err != nil {
		return nil, d.classify(ctx, req, err)
	}
	return resp, nil
}

// resolve finds the procedure for req and checks its encoding.
func (d *Dispatcher) resolve(req *transport.Request) (transport.Procedure, error) {
	d.mu.RLock()
	e, exists := d.procedures[procedureKey{service: req.Service, procedure: req.Procedure}]
	_, serviceKnown := d.services[req.Service]
	d.mu.RUnlock()

	if !exists {
		if !serviceKnown {
			return transport.Procedure{}, transport.Errorf(transport.CodeUnknownService,
				"unknown service %q", req.Service)
		}
		return transport.Procedure{}, transport.Errorf(transport.CodeUnknownProcedure,
			"unknown procedure %q for service %q", req.Procedure, req.Service)
	}

	if e.proc.Encoding != "" && e.proc.Encoding != req.EncodingOrDefault() {
		return transport.Procedure{}, transport.Errorf(transport.CodeBadRequest,
			"procedure %q expects encoding %q, got %q", req.Procedure, e.proc.Encoding, req.EncodingOrDefault())
	}

	return e.proc, nil
}

// invoke runs h, turning panics into unexpected errors.
func (d *Dispatcher) invoke(ctx context.Context, h transport.Handler, req *transport.Request) (resp *transport.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("service", req.Service),
				zap.String("procedure", req.Procedure),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			resp = nil
			err = transport.Errorf(transport.CodeUnexpected, "procedure %q panicked: %v", req.Procedure, r)
		}
	}()

	return h.Handle(ctx, req)
}

// classify maps a handler error to a transport error.
func (d *Dispatcher) classify(ctx context.Context, req *transport.Request, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return transport.Errorf(transport.CodeTimeout,
			"procedure %q of service %q timed out", req.Procedure, req.Service)
	}

	d.logger.Debug("procedure returned application error",
		zap.String("service", req.Service),
		zap.String("procedure", req.Procedure),
		zap.Error(err))
	return transport.NewError(transport.CodeApplication, err.Error())
}

// record updates the statistics of the dispatched procedure.
func (d *Dispatcher) record(req *transport.Request, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, exists := d.procedures[procedureKey{service: req.Service, procedure: req.Procedure}]
	if !exists {
		return
	}
	e.stats.Calls++
	if err != nil {
		e.stats.Failures++
	}
	e.stats.LastCallAt = time.Now()
}
