package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/najoast/yarpc/transport"
)

// Logging logs every inbound call with its outcome and duration.
func Logging(logger *zap.Logger) transport.InboundMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			start := time.Now()
			resp, err := next.Handle(ctx, req)
			logCall(logger, "inbound", req, time.Since(start), err)
			return resp, err
		})
	}
}

// OutboundLogging logs every outbound call with its outcome and duration.
func OutboundLogging(logger *zap.Logger) transport.OutboundMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next transport.Outbound) transport.Outbound {
		return transport.OutboundFunc{
			Outbound: next,
			CallFunc: func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				start := time.Now()
				resp, err := next.Call(ctx, req)
				logCall(logger, "outbound", req, time.Since(start), err)
				return resp, err
			},
		}
	}
}

func logCall(logger *zap.Logger, direction string, req *transport.Request, d time.Duration, err error) {
	level := zapcore.DebugLevel
	switch transport.CodeOf(err) {
	case "":
	case transport.CodeUnexpected:
		level = zapcore.ErrorLevel
	default:
		level = zapcore.WarnLevel
	}

	ce := logger.Check(level, "call")
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("direction", direction),
		zap.String("caller", req.Caller),
		zap.String("service", req.Service),
		zap.String("procedure", req.Procedure),
		zap.String("encoding", req.EncodingOrDefault()),
		zap.Duration("duration", d),
	}
	if err != nil {
		fields = append(fields, zap.String("code", string(transport.CodeOf(err))), zap.Error(err))
	}
	if id, ok := req.Headers.Get(RequestIDHeader); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	ce.Write(fields...)
}
