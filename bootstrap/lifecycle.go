package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds each service's Start and Stop.
const DefaultTimeout = 30 * time.Second

// healthTimeout bounds each service's Health.
const healthTimeout = 5 * time.Second

// Lifecycle starts services in dependency order and stops them in reverse.
type Lifecycle struct {
	logger *zap.Logger

	mu sync.Mutex

	// names in registration order
	names        []string
	services     map[string]Service
	dependencies map[string][]string

	// started holds the services running, in start order
	started []string
	running bool

	listeners []func(LifecycleEvent)
	timeout   time.Duration
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		logger:       logger.Named("lifecycle"),
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      DefaultTimeout,
	}
}

// Register adds a service that starts after every service in deps.
func (lc *Lifecycle) Register(service Service, deps ...string) error {
	if service == nil {
		return errors.New("service cannot be nil")
	}
	name := service.Name()
	if name == "" {
		return errors.New("service name cannot be empty")
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.running {
		return fmt.Errorf("cannot register service %s: lifecycle already started", name)
	}
	if _, exists := lc.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	lc.names = append(lc.names, name)
	lc.services[name] = service
	lc.dependencies[name] = append([]string(nil), deps...)

	lc.emit(LifecycleEvent{Type: EventRegistered, Service: name})
	return nil
}

// Start starts every service. If one fails, those already started are
// stopped again and the failure is returned.
func (lc *Lifecycle) Start(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.running {
		return errors.New("lifecycle already started")
	}

	order, err := lc.startOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}

	for _, name := range order {
		lc.emit(LifecycleEvent{Type: EventStarting, Service: name})

		startCtx, cancel := context.WithTimeout(ctx, lc.timeout)
		err := lc.services[name].Start(startCtx)
		cancel()

		if err != nil {
			lc.emit(LifecycleEvent{Type: EventFailed, Service: name, Err: err})
			lc.stopStarted(context.WithoutCancel(ctx))
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lc.started = append(lc.started, name)
		lc.emit(LifecycleEvent{Type: EventStarted, Service: name})
	}

	lc.running = true
	return nil
}

// Stop stops the started services in reverse start order. Every service
// is stopped even when some fail; the failures are joined.
func (lc *Lifecycle) Stop(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if !lc.running {
		return nil
	}
	lc.running = false
	return lc.stopStarted(ctx)
}

func (lc *Lifecycle) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(lc.started) - 1; i >= 0; i-- {
		name := lc.started[i]
		lc.emit(LifecycleEvent{Type: EventStopping, Service: name})

		stopCtx, cancel := context.WithTimeout(ctx, lc.timeout)
		err := lc.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			lc.emit(LifecycleEvent{Type: EventFailed, Service: name, Err: err})
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			continue
		}
		lc.emit(LifecycleEvent{Type: EventStopped, Service: name})
	}
	lc.started = nil
	return errors.Join(errs...)
}

// Health asks every service for its health. A service whose check fails
// is reported unhealthy.
func (lc *Lifecycle) Health(ctx context.Context) map[string]HealthStatus {
	lc.mu.Lock()
	services := make(map[string]Service, len(lc.services))
	for name, svc := range lc.services {
		services[name] = svc
	}
	lc.mu.Unlock()

	health := make(map[string]HealthStatus, len(services))
	for name, svc := range services {
		healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		status, err := svc.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error(), Timestamp: time.Now()}
		}
		health[name] = status
	}
	return health
}

// Services returns the registered service names in registration order.
func (lc *Lifecycle) Services() []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]string(nil), lc.names...)
}

// Running reports whether Start has succeeded and Stop has not been called.
func (lc *Lifecycle) Running() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.running
}

// AddListener registers a function called synchronously for every event.
// Listeners must not call back into the lifecycle.
func (lc *Lifecycle) AddListener(listener func(LifecycleEvent)) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.listeners = append(lc.listeners, listener)
}

// SetTimeout changes the per-service Start and Stop timeout.
func (lc *Lifecycle) SetTimeout(timeout time.Duration) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.timeout = timeout
}

// startOrder sorts services topologically (Kahn's algorithm). Services
// whose dependencies are equally satisfied keep registration order.
func (lc *Lifecycle) startOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lc.names))
	dependents := make(map[string][]string, len(lc.names))

	for _, name := range lc.names {
		for _, dep := range lc.dependencies[name] {
			if _, ok := lc.services[dep]; !ok {
				return nil, fmt.Errorf("dependency %s of service %s is not registered", dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range lc.names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(lc.names))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(lc.names) {
		return nil, errors.New("circular dependency detected")
	}
	return order, nil
}

// emit logs event and hands it to the listeners. The caller holds mu.
func (lc *Lifecycle) emit(event LifecycleEvent) {
	event.Timestamp = time.Now()

	if event.Err != nil {
		lc.logger.Error(string(event.Type), zap.String("component", event.Service), zap.Error(event.Err))
	} else {
		lc.logger.Debug(string(event.Type), zap.String("component", event.Service))
	}

	for _, listener := range lc.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					lc.logger.Error("lifecycle listener panicked", zap.Any("panic", r))
				}
			}()
			listener(event)
		}()
	}
}
