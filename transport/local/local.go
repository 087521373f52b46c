// Package local provides an outbound that calls a Router in the same
// process. Bodies and headers are copied so neither side can observe the
// other's mutations.
package local

import (
	"context"
	"sync/atomic"

	"github.com/najoast/yarpc/transport"
)

// TransportName is the name reported by local outbounds.
const TransportName = "local"

// Outbound calls a Router directly.
type Outbound struct {
	router  transport.Router
	running int32
}

// NewOutbound creates an outbound that dispatches to router.
func NewOutbound(router transport.Router) *Outbound {
	return &Outbound{router: router}
}

// Name returns "local".
func (o *Outbound) Name() string { return TransportName }

// Start enables calls.
func (o *Outbound) Start(context.Context) error {
	atomic.StoreInt32(&o.running, 1)
	return nil
}

// Stop disables calls.
func (o *Outbound) Stop(context.Context) error {
	atomic.StoreInt32(&o.running, 0)
	return nil
}

// Call hands a copy of req to the router and returns a copy of its response.
func (o *Outbound) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if atomic.LoadInt32(&o.running) == 0 {
		return nil, transport.Errorf(transport.CodeUnavailable, "local outbound is not running")
	}
	if err := ctx.Err(); err != nil {
		return nil, transport.Errorf(transport.CodeOf(err), "call to %q not sent: %v", req.Procedure, err)
	}

	in := *req
	in.Body = clone(req.Body)
	in.Headers = transport.HeadersFromMap(req.Headers.Items())

	resp, err := o.router.Handle(ctx, &in)
	if err != nil {
		return nil, transport.AsError(err)
	}
	if resp == nil {
		return &transport.Response{}, nil
	}
	return &transport.Response{
		Headers: transport.HeadersFromMap(resp.Headers.Items()),
		Body:    clone(resp.Body),
	}, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
