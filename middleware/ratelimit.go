package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/najoast/yarpc/transport"
)

// RateLimit rejects inbound calls beyond limit requests per second, with
// bursts of up to burst, with a resource-exhausted error.
func RateLimit(limit rate.Limit, burst int) transport.InboundMiddleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if !limiter.Allow() {
				return nil, transport.Errorf(transport.CodeResourceExhausted,
					"rate limit exceeded for procedure %q of service %q", req.Procedure, req.Service)
			}
			return next.Handle(ctx, req)
		})
	}
}
