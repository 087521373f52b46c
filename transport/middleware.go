package transport

import "context"

// InboundMiddleware decorates the handler serving a request.
type InboundMiddleware func(next Handler) Handler

// OutboundMiddleware decorates an outbound.
type OutboundMiddleware func(next Outbound) Outbound

// ApplyInbound wraps h with mw. The first middleware is the outermost.
func ApplyInbound(h Handler, mw ...InboundMiddleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			h = mw[i](h)
		}
	}
	return h
}

// ApplyOutbound wraps o with mw. The first middleware is the outermost.
func ApplyOutbound(o Outbound, mw ...OutboundMiddleware) Outbound {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			o = mw[i](o)
		}
	}
	return o
}

// OutboundFunc overrides the Call method of an outbound and forwards the
// lifecycle methods to the wrapped outbound. Middleware uses it to intercept
// calls without reimplementing Start and Stop.
type OutboundFunc struct {
	Outbound
	CallFunc func(ctx context.Context, req *Request) (*Response, error)
}

// Call runs CallFunc.
func (o OutboundFunc) Call(ctx context.Context, req *Request) (*Response, error) {
	return o.CallFunc(ctx, req)
}
