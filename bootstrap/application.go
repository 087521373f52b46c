package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/config"
	"github.com/najoast/yarpc/journal"
	"github.com/najoast/yarpc/logging"
	"github.com/najoast/yarpc/loop"
	"github.com/najoast/yarpc/rpc"
	"github.com/najoast/yarpc/transport"
)

// DefaultShutdownTimeout bounds Run's shutdown once a signal arrives.
const DefaultShutdownTimeout = 30 * time.Second

// Option customises an Application.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	level      *zap.AtomicLevel
	configFile string
	loader     *config.Loader
	inbounds   []transport.Inbound
	outbounds  map[string]transport.Outbound
	services   []extraService
	signals    []os.Signal
}

type extraService struct {
	service Service
	deps    []string
}

// WithLogger makes the application log to logger instead of building one
// from the configuration. The level is used for live level changes.
func WithLogger(logger *zap.Logger, level zap.AtomicLevel) Option {
	return func(o *options) {
		o.logger = logger
		o.level = &level
	}
}

// WithConfigFile watches file and applies log level changes while the
// application runs. loader may be nil.
func WithConfigFile(file string, loader *config.Loader) Option {
	return func(o *options) {
		o.configFile = file
		o.loader = loader
	}
}

// WithInbounds adds inbounds besides the configured ones.
func WithInbounds(inbounds ...transport.Inbound) Option {
	return func(o *options) {
		o.inbounds = append(o.inbounds, inbounds...)
	}
}

// WithOutbound adds or replaces the outbound for service.
func WithOutbound(service string, out transport.Outbound) Option {
	return func(o *options) {
		if o.outbounds == nil {
			o.outbounds = make(map[string]transport.Outbound)
		}
		o.outbounds[service] = out
	}
}

// WithService runs service under the application's lifecycle after the
// named dependencies. The rpc service is started after the journal.
func WithService(service Service, deps ...string) Option {
	return func(o *options) {
		o.services = append(o.services, extraService{service: service, deps: deps})
	}
}

// WithSignals replaces the signals that make Run shut down. With none,
// only the end of Run's context does.
func WithSignals(sig ...os.Signal) Option {
	return func(o *options) {
		o.signals = sig
	}
}

// Application is a configured yarpc service.
type Application struct {
	cfg       *config.Config
	logger    *zap.Logger
	ownLogger bool
	signals   []os.Signal

	rpc       *rpc.RPC
	journal   *JournalService
	lifecycle *Lifecycle

	mu      sync.Mutex
	running bool
}

// New builds an application from cfg. Nothing is started or opened until
// Start or Run.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	o := options{signals: []os.Signal{os.Interrupt, syscall.SIGTERM}}
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{cfg: cfg, signals: o.signals}

	var level zap.AtomicLevel
	if o.logger != nil {
		app.logger = o.logger
		level = *o.level
	} else {
		logger, atom, err := logging.New(cfg.Log)
		if err != nil {
			return nil, &ApplicationError{Operation: "configure", Service: "logging", Err: err}
		}
		app.logger, level, app.ownLogger = logger, atom, true
	}

	var store journal.Store
	if cfg.Journal.Enabled() {
		app.journal = NewJournalService(cfg.Journal)
		store = app.journal
	}

	outbounds, err := BuildOutbounds(cfg.Outbounds, app.logger)
	if err != nil {
		return nil, app.fail(&ApplicationError{Operation: "configure", Service: RPCServiceName, Err: err})
	}
	for service, out := range o.outbounds {
		outbounds[service] = out
	}

	inMW, outMW := BuildMiddleware(cfg.Middleware, store, app.logger)
	app.rpc, err = rpc.New(rpc.Config{
		Service:            cfg.Service.Name,
		Inbounds:           append(BuildInbounds(cfg.Inbounds, app.logger), o.inbounds...),
		Outbounds:          outbounds,
		InboundMiddleware:  inMW,
		OutboundMiddleware: outMW,
		Loop: loop.Options{
			Workers:   cfg.Loop.Workers,
			QueueSize: cfg.Loop.QueueSize,
			Name:      cfg.Service.Name,
		},
		DefaultTTL: cfg.TTL,
		Logger:     app.logger,
	})
	if err != nil {
		return nil, app.fail(&ApplicationError{Operation: "configure", Service: RPCServiceName, Err: err})
	}

	app.lifecycle = NewLifecycle(app.logger)
	var rpcDeps []string
	if app.journal != nil {
		if err := app.lifecycle.Register(app.journal); err != nil {
			return nil, app.fail(err)
		}
		rpcDeps = append(rpcDeps, JournalServiceName)
	}
	if err := app.lifecycle.Register(&rpcService{rpc: app.rpc}, rpcDeps...); err != nil {
		return nil, app.fail(err)
	}
	if o.configFile != "" {
		w := &watcherService{file: o.configFile, loader: o.loader, level: level, logger: app.logger}
		if err := app.lifecycle.Register(w); err != nil {
			return nil, app.fail(err)
		}
	}
	for _, extra := range o.services {
		if err := app.lifecycle.Register(extra.service, extra.deps...); err != nil {
			return nil, app.fail(err)
		}
	}

	return app, nil
}

// fail releases what New built before returning err.
func (app *Application) fail(err error) error {
	if app.ownLogger {
		_ = app.logger.Sync()
	}
	return err
}

// Config returns the configuration the application was built from.
func (app *Application) Config() *config.Config {
	return app.cfg
}

// Logger returns the application's logger.
func (app *Application) Logger() *zap.Logger {
	return app.logger
}

// RPC returns the application's RPC.
func (app *Application) RPC() *rpc.RPC {
	return app.rpc
}

// Journal returns the call journal, or nil when none is configured.
func (app *Application) Journal() journal.Store {
	if app.journal == nil {
		return nil
	}
	return app.journal
}

// Lifecycle returns the lifecycle running the application's services.
func (app *Application) Lifecycle() *Lifecycle {
	return app.lifecycle
}

// Register registers procedures on the RPC.
func (app *Application) Register(procs ...transport.Procedure) error {
	return app.rpc.Register(procs...)
}

// Start starts every service.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.running {
		return errors.New("application is already running")
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	app.running = true

	fields := []zap.Field{
		zap.String("environment", app.cfg.Service.Environment.String()),
		zap.Strings("outbounds", app.rpc.OutboundServices()),
	}
	for _, in := range app.rpc.Inbounds() {
		fields = append(fields, zap.String(in.Name(), in.Addr()))
	}
	app.logger.Info("service started", fields...)
	return nil
}

// Shutdown stops every service. It is a no-op when not running.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if !app.running {
		return nil
	}
	app.running = false

	err := app.lifecycle.Stop(ctx)
	if err != nil {
		app.logger.Error("service stopped with errors", zap.Error(err))
	} else {
		app.logger.Info("service stopped")
	}
	if app.ownLogger {
		_ = app.logger.Sync()
	}
	return err
}

// Run starts the application and blocks until ctx ends or a shutdown
// signal arrives, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	waitCtx := ctx
	if len(app.signals) > 0 {
		var stop context.CancelFunc
		waitCtx, stop = signal.NotifyContext(ctx, app.signals...)
		defer stop()
	}
	<-waitCtx.Done()

	if ctx.Err() == nil {
		app.logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop services: %w", err)
	}
	return nil
}

// Health reports the health of every service.
func (app *Application) Health(ctx context.Context) map[string]HealthStatus {
	return app.lifecycle.Health(ctx)
}
