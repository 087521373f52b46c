package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/najoast/yarpc/loop"
	"github.com/najoast/yarpc/transport"
)

// Channel calls procedures of one remote service.
type Channel struct {
	caller     string
	service    string
	outbound   transport.Outbound
	loop       *loop.Loop
	defaultTTL time.Duration
}

// CallOption customises a single call.
type CallOption func(*callOptions)

type callOptions struct {
	headers  transport.Headers
	ttl      time.Duration
	encoding string
}

// WithHeader adds an application header to the call.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		o.headers = o.headers.With(key, value)
	}
}

// WithHeaders adds every header in h to the call.
func WithHeaders(h transport.Headers) CallOption {
	return func(o *callOptions) {
		for k, v := range h.Items() {
			o.headers = o.headers.With(k, v)
		}
	}
}

// WithTTL sets how long the callee may spend on the call.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithEncoding sets the encoding of the request body. The default is raw.
func WithEncoding(encoding string) CallOption {
	return func(o *callOptions) { o.encoding = encoding }
}

// Service returns the service the channel calls.
func (c *Channel) Service() string {
	return c.service
}

// Call sends body to procedure and waits for the response. It is
// CallAsync followed by Get.
func (c *Channel) Call(ctx context.Context, procedure string, body []byte, opts ...CallOption) (*transport.Response, error) {
	resp, err := c.CallAsync(ctx, procedure, body, opts...).Get(ctx)
	if err != nil {
		return nil, callError(err)
	}
	return resp, nil
}

// CallEncoded calls procedure with a body in the given encoding. It lets
// typed helpers in the encoding package use a Channel.
func (c *Channel) CallEncoded(ctx context.Context, procedure, encoding string, body []byte, headers transport.Headers) (*transport.Response, error) {
	return c.Call(ctx, procedure, body, WithEncoding(encoding), WithHeaders(headers))
}

// CallAsync queues the call on the event loop and returns its future.
func (c *Channel) CallAsync(ctx context.Context, procedure string, body []byte, opts ...CallOption) *loop.Future {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	req := &transport.Request{
		Caller:    c.caller,
		Service:   c.service,
		Procedure: procedure,
		Encoding:  o.encoding,
		Headers:   o.headers,
		Body:      body,
		TTL:       c.ttl(ctx, o.ttl),
	}
	if req.Encoding == "" {
		req.Encoding = transport.EncodingRaw
	}

	if req.TTL < 0 {
		return loop.Failed(transport.Errorf(transport.CodeTimeout,
			"deadline exceeded before calling %q", procedure))
	}
	if err := req.Validate(); err != nil {
		return loop.Failed(err)
	}

	return c.loop.Submit(ctx, func(ctx context.Context) (*transport.Response, error) {
		if req.TTL > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, req.TTL)
			defer cancel()
		}
		return c.outbound.Call(ctx, req)
	})
}

// ttl picks the call's TTL: the explicit option, the default TTL, or the
// time left until ctx's deadline. A negative result means the deadline
// has already passed.
func (c *Channel) ttl(ctx context.Context, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if c.defaultTTL > 0 {
		return c.defaultTTL
	}
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return -1
		}
		return left
	}
	return 0
}

// callError reports loop and context failures as transport errors. A
// call whose ctx was canceled did not complete, so it is unavailable.
func callError(err error) error {
	var terr *transport.Error
	switch {
	case errors.As(err, &terr):
		return terr
	case errors.Is(err, loop.ErrLoopStopped):
		return transport.Errorf(transport.CodeUnavailable, "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return transport.Errorf(transport.CodeTimeout, "%v", err)
	case errors.Is(err, context.Canceled):
		return transport.Errorf(transport.CodeUnavailable, "call canceled: %v", err)
	default:
		return err
	}
}
