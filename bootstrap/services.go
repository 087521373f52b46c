package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/config"
	"github.com/najoast/yarpc/journal"
	"github.com/najoast/yarpc/logging"
	"github.com/najoast/yarpc/loop"
	"github.com/najoast/yarpc/rpc"
)

// Names of the services an Application registers.
const (
	JournalServiceName = "journal"
	RPCServiceName     = "rpc"
	WatcherServiceName = "config-watcher"
)

var errJournalClosed = errors.New("journal is not open")

// JournalService opens the call journal on Start and closes it on Stop.
// It is itself a journal.Store so middleware can be built before the
// database is open; records made while it is closed fail.
type JournalService struct {
	driver string
	dsn    string

	mu    sync.RWMutex
	store journal.Store
}

// NewJournalService creates a journal service for the given database.
func NewJournalService(cfg config.JournalConfig) *JournalService {
	return &JournalService{driver: cfg.Driver, dsn: cfg.DSN}
}

func (s *JournalService) Name() string { return JournalServiceName }

func (s *JournalService) Start(ctx context.Context) error {
	store, err := journal.Open(ctx, s.driver, s.dsn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
	return nil
}

func (s *JournalService) Stop(context.Context) error {
	s.mu.Lock()
	store := s.store
	s.store = nil
	s.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Close()
}

func (s *JournalService) Health(ctx context.Context) (HealthStatus, error) {
	store := s.current()
	if store == nil {
		return HealthStatus{State: HealthUnhealthy, Message: errJournalClosed.Error(), Timestamp: time.Now()}, nil
	}
	if _, err := store.Recent(ctx, 1); err != nil {
		return HealthStatus{}, err
	}
	return HealthStatus{
		State:     HealthHealthy,
		Details:   map[string]interface{}{"driver": s.driver},
		Timestamp: time.Now(),
	}, nil
}

// Record implements journal.Store.
func (s *JournalService) Record(ctx context.Context, e journal.Entry) error {
	store := s.current()
	if store == nil {
		return errJournalClosed
	}
	return store.Record(ctx, e)
}

// Recent implements journal.Store.
func (s *JournalService) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	store := s.current()
	if store == nil {
		return nil, errJournalClosed
	}
	return store.Recent(ctx, limit)
}

// Close implements journal.Store; it is the same as Stop.
func (s *JournalService) Close() error {
	return s.Stop(context.Background())
}

func (s *JournalService) current() journal.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// rpcService runs an RPC under a lifecycle.
type rpcService struct {
	rpc *rpc.RPC
}

func (s *rpcService) Name() string { return RPCServiceName }

func (s *rpcService) Start(ctx context.Context) error { return s.rpc.Start(ctx) }

func (s *rpcService) Stop(ctx context.Context) error { return s.rpc.Stop(ctx) }

func (s *rpcService) Health(context.Context) (HealthStatus, error) {
	stats := s.rpc.LoopStats()

	inbounds := make(map[string]string)
	for _, in := range s.rpc.Inbounds() {
		inbounds[in.Name()] = in.Addr()
	}

	status := HealthStatus{
		State:   HealthHealthy,
		Message: "serving " + s.rpc.Service(),
		Details: map[string]interface{}{
			"inbounds":   inbounds,
			"outbounds":  s.rpc.OutboundServices(),
			"procedures": len(s.rpc.Dispatcher().Procedures()),
			"queued":     stats.Queued,
			"completed":  stats.Completed,
			"failed":     stats.Failed,
		},
		Timestamp: time.Now(),
	}
	if stats.State != loop.StateRunning {
		status.State = HealthUnhealthy
		status.Message = "event loop is " + stats.State.String()
	}
	return status, nil
}

// watcherService reloads the configuration file while the application
// runs. Only the log level is applied live; other changes are logged and
// take effect on restart.
type watcherService struct {
	file   string
	loader *config.Loader
	level  zap.AtomicLevel
	logger *zap.Logger

	watcher *config.Watcher
}

func (s *watcherService) Name() string { return WatcherServiceName }

func (s *watcherService) Start(context.Context) error {
	w, err := config.NewWatcher(s.file, s.loader, s.logger)
	if err != nil {
		return err
	}
	w.OnConfigChange(s.apply)
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	s.watcher = w
	return nil
}

func (s *watcherService) Stop(context.Context) error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}

func (s *watcherService) Health(context.Context) (HealthStatus, error) {
	if s.watcher == nil {
		return HealthStatus{State: HealthUnknown, Message: "not watching", Timestamp: time.Now()}, nil
	}
	return HealthStatus{
		State:     HealthHealthy,
		Details:   map[string]interface{}{"file": s.watcher.File()},
		Timestamp: time.Now(),
	}, nil
}

func (s *watcherService) apply(old, cur *config.Config) {
	if old.Log.Level != cur.Log.Level {
		if err := logging.SetLevel(s.level, cur.Log.Level); err != nil {
			s.logger.Warn("ignoring log level change", zap.Error(err))
		} else {
			s.logger.Info("log level changed",
				zap.Stringer("from", old.Log.Level), zap.Stringer("to", cur.Log.Level))
		}
	}

	if old.Service != cur.Service || old.TTL != cur.TTL || old.Journal != cur.Journal {
		s.logger.Warn("configuration change requires a restart to take effect")
	}
}
