package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/najoast/yarpc/config"
	"github.com/najoast/yarpc/journal"
	"github.com/najoast/yarpc/rpc"
	"github.com/najoast/yarpc/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestService records its lifecycle calls into a shared log
type TestService struct {
	name     string
	log      *callLog
	startErr error
	stopErr  error
	health   error
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (s *TestService) Name() string { return s.name }

func (s *TestService) Start(ctx context.Context) error {
	s.log.add("start " + s.name)
	return s.startErr
}

func (s *TestService) Stop(ctx context.Context) error {
	s.log.add("stop " + s.name)
	return s.stopErr
}

func (s *TestService) Health(ctx context.Context) (HealthStatus, error) {
	if s.health != nil {
		return HealthStatus{}, s.health
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func TestLifecycleOrder(t *testing.T) {
	log := &callLog{}
	lc := NewLifecycle(zaptest.NewLogger(t))

	// Registered before their dependencies
	if err := lc.Register(&TestService{name: "c", log: log}, "b"); err != nil {
		t.Fatalf("Failed to register c: %v", err)
	}
	if err := lc.Register(&TestService{name: "b", log: log}, "a"); err != nil {
		t.Fatalf("Failed to register b: %v", err)
	}
	if err := lc.Register(&TestService{name: "a", log: log}); err != nil {
		t.Fatalf("Failed to register a: %v", err)
	}

	ctx := context.Background()
	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if !lc.Running() {
		t.Error("Lifecycle should be running")
	}
	if err := lc.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	if lc.Running() {
		t.Error("Lifecycle should not be running")
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if got := lc.Services(); !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Errorf("Expected registration order, got %v", got)
	}

	// Stopping twice is a no-op
	if err := lc.Stop(ctx); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
}

func TestLifecycleRegisterErrors(t *testing.T) {
	lc := NewLifecycle(nil)
	log := &callLog{}

	if err := lc.Register(nil); err == nil {
		t.Error("Expected error for nil service")
	}
	if err := lc.Register(&TestService{log: log}); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := lc.Register(&TestService{name: "a", log: log}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := lc.Register(&TestService{name: "a", log: log}); err == nil {
		t.Error("Expected error for duplicate name")
	}
}

func TestLifecycleDependencyErrors(t *testing.T) {
	log := &callLog{}

	lc := NewLifecycle(nil)
	lc.Register(&TestService{name: "a", log: log}, "missing")
	if err := lc.Start(context.Background()); err == nil {
		t.Error("Expected error for missing dependency")
	}

	lc = NewLifecycle(nil)
	lc.Register(&TestService{name: "a", log: log}, "b")
	lc.Register(&TestService{name: "b", log: log}, "a")
	if err := lc.Start(context.Background()); err == nil {
		t.Error("Expected error for circular dependency")
	}

	if calls := log.get(); len(calls) != 0 {
		t.Errorf("No service should have been started, got %v", calls)
	}
}

func TestLifecycleStartRollsBack(t *testing.T) {
	log := &callLog{}
	boom := errors.New("boom")

	lc := NewLifecycle(zaptest.NewLogger(t))
	lc.Register(&TestService{name: "a", log: log})
	lc.Register(&TestService{name: "b", log: log, startErr: boom}, "a")
	lc.Register(&TestService{name: "c", log: log}, "b")

	err := lc.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.Service != "b" || appErr.Operation != "start" {
		t.Errorf("Expected start error for b, got %v", err)
	}

	want := []string{"start a", "start b", "stop a"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if lc.Running() {
		t.Error("Lifecycle should not be running")
	}
}

func TestLifecycleStopJoinsErrors(t *testing.T) {
	log := &callLog{}
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	lc := NewLifecycle(zaptest.NewLogger(t))
	lc.Register(&TestService{name: "a", log: log, stopErr: errA})
	lc.Register(&TestService{name: "b", log: log, stopErr: errB}, "a")

	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	err := lc.Stop(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Expected both stop errors, got %v", err)
	}
	if got := log.get(); got[len(got)-1] != "stop a" {
		t.Errorf("Every service should be stopped, got %v", got)
	}
}

func TestLifecycleHealth(t *testing.T) {
	log := &callLog{}
	lc := NewLifecycle(nil)
	lc.Register(&TestService{name: "ok", log: log})
	lc.Register(&TestService{name: "sick", log: log, health: errors.New("no disk")})

	health := lc.Health(context.Background())
	if health["ok"].State != HealthHealthy {
		t.Errorf("Expected healthy, got %v", health["ok"].State)
	}
	if health["sick"].State != HealthUnhealthy || health["sick"].Message != "no disk" {
		t.Errorf("Expected unhealthy with message, got %+v", health["sick"])
	}
}

func TestLifecycleListener(t *testing.T) {
	log := &callLog{}
	lc := NewLifecycle(nil)

	var events []EventType
	lc.AddListener(func(e LifecycleEvent) {
		events = append(events, e.Type)
	})
	lc.AddListener(func(LifecycleEvent) {
		panic("listener bug")
	})

	lc.Register(&TestService{name: "a", log: log})
	lc.Start(context.Background())
	lc.Stop(context.Background())

	want := []EventType{EventRegistered, EventStarting, EventStarted, EventStopping, EventStopped}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("Expected %v, got %v", want, events)
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Service.Name = "echo"
	cfg.Service.Environment = config.EnvTesting
	cfg.Loop.Workers = 2
	cfg.Loop.QueueSize = 16
	cfg.Inbounds.TCP = &config.TCPInboundConfig{Address: "127.0.0.1:0"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *Application {
	t.Helper()

	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t), zap.NewAtomicLevel()),
		WithSignals(),
	}, opts...)
	app, err := New(cfg, opts...)
	require.NoError(t, err)
	return app
}

func echoProcedure() transport.Procedure {
	return transport.Procedure{
		Name: "echo",
		Handler: transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return &transport.Response{Body: req.Body}, nil
		}),
	}
}

func startServer(t *testing.T, cfg *config.Config) (*Application, string) {
	t.Helper()

	server := newTestApp(t, cfg)
	require.NoError(t, server.Register(echoProcedure()))
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Shutdown(context.Background()) })

	inbounds := server.RPC().Inbounds()
	require.Len(t, inbounds, 1)
	return server, inbounds[0].Addr()
}

func TestApplicationCallsConfiguredOutbound(t *testing.T) {
	_, addr := startServer(t, testConfig())

	cfg := config.DefaultConfig()
	cfg.Service.Name = "frontend"
	cfg.Outbounds = map[string]config.OutboundConfig{
		"echo": {Transport: config.TransportTCP, Peers: []string{addr}},
	}
	cfg.Middleware.Retry.Attempts = 2

	client := newTestApp(t, cfg)
	require.NoError(t, client.Start(context.Background()))
	defer client.Shutdown(context.Background())

	ch, err := client.RPC().Channel("echo")
	require.NoError(t, err)

	resp, err := ch.Call(context.Background(), "echo", []byte("hello"), rpc.WithTTL(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp.Body))

	_, err = ch.Call(context.Background(), "missing", nil)
	assert.Equal(t, transport.CodeUnknownProcedure, transport.CodeOf(err))
}

func TestApplicationJournal(t *testing.T) {
	cfg := testConfig()
	cfg.Journal = config.JournalConfig{
		Driver: journal.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "journal.db"),
	}
	server, addr := startServer(t, cfg)

	cfg = config.DefaultConfig()
	cfg.Service.Name = "frontend"
	cfg.Outbounds = map[string]config.OutboundConfig{
		"echo": {Transport: config.TransportTCP, Peers: []string{addr}},
	}
	client := newTestApp(t, cfg)
	require.NoError(t, client.Start(context.Background()))
	defer client.Shutdown(context.Background())

	ch, err := client.RPC().Channel("echo")
	require.NoError(t, err)
	_, err = ch.Call(context.Background(), "echo", []byte("x"))
	require.NoError(t, err)

	entries, err := server.Journal().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.Inbound, entries[0].Direction)
	assert.Equal(t, "frontend", entries[0].Caller)
	assert.Equal(t, "echo", entries[0].Procedure)
	assert.Empty(t, entries[0].Code)

	health := server.Health(context.Background())
	assert.Equal(t, HealthHealthy, health[JournalServiceName].State)
	assert.Equal(t, HealthHealthy, health[RPCServiceName].State)
}

func TestApplicationWithoutJournal(t *testing.T) {
	app := newTestApp(t, testConfig())
	assert.Nil(t, app.Journal())
	assert.Equal(t, []string{RPCServiceName}, app.Lifecycle().Services())
}

func TestApplicationInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Service.Name = ""
	_, err := New(cfg, WithLogger(zap.NewNop(), zap.NewAtomicLevel()))
	assert.ErrorIs(t, err, config.ErrInvalidServiceName)

	cfg = testConfig()
	cfg.Outbounds = map[string]config.OutboundConfig{
		"other": {Transport: "carrier-pigeon", Peers: []string{"x"}},
	}
	_, err = New(cfg, WithLogger(zap.NewNop(), zap.NewAtomicLevel()))
	assert.ErrorIs(t, err, config.ErrInvalidOutbound)
}

func TestApplicationStartTwice(t *testing.T) {
	app := newTestApp(t, testConfig())
	require.NoError(t, app.Start(context.Background()))
	defer app.Shutdown(context.Background())

	assert.Error(t, app.Start(context.Background()))
}

func TestApplicationHealthAfterShutdown(t *testing.T) {
	app := newTestApp(t, testConfig())
	require.NoError(t, app.Start(context.Background()))
	assert.Equal(t, HealthHealthy, app.Health(context.Background())[RPCServiceName].State)

	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, HealthUnhealthy, app.Health(context.Background())[RPCServiceName].State)

	// Shutdown again is a no-op
	assert.NoError(t, app.Shutdown(context.Background()))
}

func TestApplicationRunStopsWithContext(t *testing.T) {
	app := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, app.Lifecycle().Running, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, app.Lifecycle().Running())
}

func TestApplicationExtraService(t *testing.T) {
	log := &callLog{}
	app := newTestApp(t, testConfig(), WithService(&TestService{name: "cache", log: log}, RPCServiceName))

	require.NoError(t, app.Start(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, []string{"start cache", "stop cache"}, log.get())
}

func TestApplicationWatchesLogLevel(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "yarpc.yaml")
	write := func(level string) {
		data := "service:\n  name: echo\nlog:\n  level: " + level + "\n"
		require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	}
	write("info")

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	loader := config.NewLoader().SetEnv(func(string) string { return "" })

	app, err := New(testConfig(),
		WithLogger(zaptest.NewLogger(t), level),
		WithConfigFile(file, loader),
		WithSignals(),
	)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	defer app.Shutdown(context.Background())

	write("debug")
	require.Eventually(t, func() bool {
		return level.Level() == zapcore.DebugLevel
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, HealthHealthy, app.Health(context.Background())[WatcherServiceName].State)
}
