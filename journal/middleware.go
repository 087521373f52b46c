package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/transport"
)

// recordTimeout bounds a journal write made after a call completes.
const recordTimeout = 5 * time.Second

// InboundMiddleware journals every served call. Journal failures are
// logged and never change the call's outcome.
func InboundMiddleware(store Store, logger *zap.Logger) transport.InboundMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			start := time.Now()
			resp, err := next.Handle(ctx, req)
			record(ctx, store, logger, Inbound, req, start, err)
			return resp, err
		})
	}
}

// OutboundMiddleware journals every call made through an outbound.
func OutboundMiddleware(store Store, logger *zap.Logger) transport.OutboundMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next transport.Outbound) transport.Outbound {
		return transport.OutboundFunc{
			Outbound: next,
			CallFunc: func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				start := time.Now()
				resp, err := next.Call(ctx, req)
				record(ctx, store, logger, Outbound, req, start, err)
				return resp, err
			},
		}
	}
}

func record(ctx context.Context, store Store, logger *zap.Logger, dir Direction, req *transport.Request, start time.Time, callErr error) {
	// The call's own deadline may already have passed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	e := Entry{
		Direction:  dir,
		Caller:     req.Caller,
		Service:    req.Service,
		Procedure:  req.Procedure,
		Encoding:   req.EncodingOrDefault(),
		Code:       string(transport.CodeOf(callErr)),
		DurationMS: time.Since(start).Milliseconds(),
		At:         start,
	}
	if err := store.Record(ctx, e); err != nil {
		logger.Warn("failed to journal call",
			zap.String("service", req.Service),
			zap.String("procedure", req.Procedure),
			zap.Error(err))
	}
}
