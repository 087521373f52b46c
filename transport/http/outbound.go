package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/peer"
	"github.com/najoast/yarpc/transport"
)

// OutboundOption configures an Outbound.
type OutboundOption func(*Outbound)

// WithClient sets the HTTP client used for calls.
func WithClient(client *http.Client) OutboundOption {
	return func(o *Outbound) {
		if client != nil {
			o.client = client
		}
	}
}

// WithLogger sets the outbound logger.
func WithLogger(logger *zap.Logger) OutboundOption {
	return func(o *Outbound) {
		if logger != nil {
			o.logger = logger.Named("http")
		}
	}
}

// Outbound sends calls as HTTP POST requests to one of a set of peers.
// A peer address is either host:port or a base URL.
type Outbound struct {
	chooser peer.Chooser
	client  *http.Client
	logger  *zap.Logger
}

// NewOutbound creates an outbound that picks peers with chooser.
func NewOutbound(chooser peer.Chooser, opts ...OutboundOption) *Outbound {
	o := &Outbound{
		chooser: chooser,
		client:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns "http".
func (o *Outbound) Name() string { return TransportName }

// Start is a no-op.
func (o *Outbound) Start(context.Context) error { return nil }

// Stop closes idle connections.
func (o *Outbound) Stop(context.Context) error {
	o.client.CloseIdleConnections()
	return nil
}

// Call posts req to a chosen peer and reconstructs the response or error.
func (o *Outbound) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	p, done, err := o.chooser.Choose(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	hreq, err := o.httpRequest(ctx, p.Address, req)
	if err != nil {
		return nil, err
	}

	hresp, err := o.client.Do(hreq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, transport.Errorf(transport.CodeTimeout,
				"call to procedure %q of service %q timed out", req.Procedure, req.Service)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transport.Errorf(transport.CodeUnavailable, "request to %s failed: %v", p.Address, err)
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, transport.Errorf(transport.CodeUnavailable, "failed to read response from %s: %v", p.Address, err)
	}

	if hresp.StatusCode < 200 || hresp.StatusCode >= 300 {
		code := transport.Code(hresp.Header.Get(StatusHeader))
		if code == "" {
			code = CodeFromStatus(hresp.StatusCode)
		}
		o.logger.Debug("call failed",
			zap.String("service", req.Service),
			zap.String("procedure", req.Procedure),
			zap.Int("status", hresp.StatusCode))
		return nil, transport.NewError(code, strings.TrimSpace(string(body)))
	}

	headers := transport.NewHeaders()
	for k, vs := range hresp.Header {
		if len(vs) == 0 || !strings.HasPrefix(k, ApplicationHeaderPrefix) {
			continue
		}
		headers = headers.With(strings.TrimPrefix(k, ApplicationHeaderPrefix), vs[0])
	}
	return &transport.Response{Headers: headers, Body: body}, nil
}

func (o *Outbound) httpRequest(ctx context.Context, address string, req *transport.Request) (*http.Request, error) {
	url := address
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/") + "/"

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, transport.Errorf(transport.CodeBadRequest, "invalid peer %q: %v", address, err)
	}

	h := hreq.Header
	h.Set("Content-Type", "application/octet-stream")
	h.Set(ServiceHeader, req.Service)
	h.Set(ProcedureHeader, req.Procedure)
	h.Set(EncodingHeader, req.EncodingOrDefault())
	if req.Caller != "" {
		h.Set(CallerHeader, req.Caller)
	}

	ttl := req.TTL
	if ttl == 0 {
		if deadline, ok := ctx.Deadline(); ok {
			ttl = time.Until(deadline)
			if ttl <= 0 {
				return nil, transport.Errorf(transport.CodeTimeout,
					"deadline exceeded before calling %q", req.Procedure)
			}
		}
	}
	if ttl > 0 {
		ms := ttl.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		h.Set(TTLHeader, strconv.FormatInt(ms, 10))
	}

	for k, v := range req.Headers.Items() {
		h.Set(ApplicationHeaderPrefix+k, v)
	}
	return hreq, nil
}

// String describes the outbound for logs.
func (o *Outbound) String() string {
	return fmt.Sprintf("http outbound (%s)", o.chooser.Strategy())
}
