package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/najoast/yarpc/transport"
)

// RequestIDHeader carries the request id across calls.
const RequestIDHeader = "x-request-id"

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// RequestID makes sure every inbound request has an x-request-id header,
// generating one when the caller sent none. The id is stored in the
// handler's context and echoed in the response headers.
func RequestID() transport.InboundMiddleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			id, ok := req.Headers.Get(RequestIDHeader)
			if !ok || id == "" {
				id = uuid.NewString()
				r := *req
				r.Headers = req.Headers.With(RequestIDHeader, id)
				req = &r
			}

			resp, err := next.Handle(WithRequestID(ctx, id), req)
			if resp != nil {
				if _, ok := resp.Headers.Get(RequestIDHeader); !ok {
					resp = &transport.Response{Headers: resp.Headers.With(RequestIDHeader, id), Body: resp.Body}
				}
			}
			return resp, err
		})
	}
}

// OutboundRequestID propagates the request id from the context to
// outgoing calls, generating one when there is none.
func OutboundRequestID() transport.OutboundMiddleware {
	return func(next transport.Outbound) transport.Outbound {
		return transport.OutboundFunc{
			Outbound: next,
			CallFunc: func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				if _, ok := req.Headers.Get(RequestIDHeader); !ok {
					id, ok := RequestIDFromContext(ctx)
					if !ok {
						id = uuid.NewString()
					}
					r := *req
					r.Headers = req.Headers.With(RequestIDHeader, id)
					req = &r
				}
				return next.Call(ctx, req)
			},
		}
	}
}
