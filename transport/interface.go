package transport

import (
	"context"
)

// Handler processes a request addressed to a procedure.
type Handler interface {
	// Handle processes a single request.
	// Errors that are not *Error are reported to callers as application errors.
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Procedure binds a handler to a (service, procedure) pair.
type Procedure struct {
	// Service that owns the procedure; empty means the owning RPC's service
	Service string

	// Name of the procedure
	Name string

	// Encoding the handler expects; empty accepts any encoding
	Encoding string

	// Handler serving the procedure
	Handler Handler
}

// Router is what an inbound serves: it resolves and runs procedures.
type Router interface {
	Handler

	// Procedures returns every registered procedure.
	Procedures() []Procedure
}

// Inbound receives requests from the network and hands them to a Router.
type Inbound interface {
	// Name identifies the transport (tcp, http, websocket).
	Name() string

	// Start begins accepting requests. It returns once the inbound is listening.
	Start(ctx context.Context, router Router) error

	// Stop stops accepting requests and releases resources.
	Stop(ctx context.Context) error

	// Addr returns the address the inbound is bound to, if any.
	Addr() string
}

// Outbound sends requests to a remote service.
type Outbound interface {
	// Name identifies the transport.
	Name() string

	// Start prepares the outbound for calls.
	Start(ctx context.Context) error

	// Stop releases the outbound's resources. Pending calls fail.
	Stop(ctx context.Context) error

	// Call sends a request and waits for its response.
	Call(ctx context.Context, req *Request) (*Response, error)
}
