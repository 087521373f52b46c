// Package middleware provides inbound and outbound middleware for the
// dispatcher and channels: call logging, request ids, rate limiting and
// retries.
//
// Inbound middleware is installed on the dispatcher and sees every request
// it handles, including ones rejected as bad requests or unknown
// procedures. Errors reaching it are already *transport.Error values.
// Outbound middleware wraps every outbound a channel calls through:
//
//	r, err := rpc.New(rpc.Config{
//		Service:            "kv",
//		InboundMiddleware:  []transport.InboundMiddleware{middleware.RequestID(), middleware.Logging(logger)},
//		OutboundMiddleware: []transport.OutboundMiddleware{middleware.Retry(middleware.DefaultRetryPolicy())},
//	})
package middleware
