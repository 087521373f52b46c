// Package bootstrap assembles a yarpc service from its configuration and
// runs it: it opens the call journal, builds the RPC with its transports
// and middleware, and starts and stops them in dependency order.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service is a component with a managed lifecycle
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	State     HealthState            `json:"state"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthState represents the health state
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// EventType names a lifecycle event
type EventType string

const (
	EventRegistered EventType = "service.registered"
	EventStarting   EventType = "service.starting"
	EventStarted    EventType = "service.started"
	EventStopping   EventType = "service.stopping"
	EventStopped    EventType = "service.stopped"
	EventFailed     EventType = "service.failed"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// ApplicationError represents an application-level error
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
