// Package http carries calls as HTTP POST requests.
//
// Routing information travels in headers: Rpc-Caller, Rpc-Service,
// Rpc-Procedure, Rpc-Encoding and Context-TTL-MS. Application headers are
// sent as Rpc-Header-<key>. Failed calls are answered with a non-2xx
// status, an Rpc-Status header holding the error code and the message as
// the body.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/najoast/yarpc/transport"
)

// TransportName is the name reported by http inbounds and outbounds.
const TransportName = "http"

// DefaultMaxBodySize bounds request bodies accepted by an Inbound.
const DefaultMaxBodySize = 16 << 20

// InboundOption configures an Inbound.
type InboundOption func(*Inbound)

// WithMaxBodySize sets the largest accepted request body.
func WithMaxBodySize(n int64) InboundOption {
	return func(i *Inbound) {
		if n > 0 {
			i.maxBody = n
		}
	}
}

// WithReadTimeout sets the server read timeout.
func WithReadTimeout(d time.Duration) InboundOption {
	return func(i *Inbound) { i.readTimeout = d }
}

// Inbound serves a Router over HTTP.
type Inbound struct {
	address     string
	logger      *zap.Logger
	maxBody     int64
	readTimeout time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewInbound creates an inbound listening on address.
func NewInbound(address string, logger *zap.Logger, opts ...InboundOption) *Inbound {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Inbound{
		address: address,
		logger:  logger.Named("http"),
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Name returns "http".
func (i *Inbound) Name() string { return TransportName }

// Handler returns the HTTP handler serving router. It is what Start
// serves and can be mounted on another server.
func (i *Inbound) Handler(router transport.Router) http.Handler {
	r := httprouter.New()
	h := &handler{router: router, logger: i.logger, maxBody: i.maxBody}
	r.POST("/", h.serve)
	r.POST("/:service/:procedure", h.serve)
	return r
}

// Start begins listening and serving router.
func (i *Inbound) Start(_ context.Context, router transport.Router) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.server != nil {
		return fmt.Errorf("http inbound already started")
	}

	listener, err := net.Listen("tcp", i.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", i.address, err)
	}

	server := &http.Server{
		Handler:           i.Handler(router),
		ReadTimeout:       i.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Error("http server failed", zap.Error(err))
		}
	}()

	i.server = server
	i.listener = listener
	i.done = done
	i.logger.Info("http inbound listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, waiting for active requests or ctx.
func (i *Inbound) Stop(ctx context.Context) error {
	i.mu.Lock()
	server, done := i.server, i.done
	i.server = nil
	i.mu.Unlock()

	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)
	if err != nil {
		server.Close()
	}
	<-done
	return err
}

// Addr returns the bound listen address, or the configured one before Start.
func (i *Inbound) Addr() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.listener != nil {
		return i.listener.Addr().String()
	}
	return i.address
}

type handler struct {
	router  transport.Router
	logger  *zap.Logger
	maxBody int64
}

func (h *handler) serve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	req, err := h.request(w, r, ps)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	resp, err := h.router.Handle(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	header := w.Header()
	for k, v := range resp.Headers.Items() {
		header.Set(ApplicationHeaderPrefix+k, v)
	}
	header.Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug("failed to write response",
			zap.String("procedure", req.Procedure), zap.Error(err))
	}
}

// request builds a transport request from the HTTP request. Path
// parameters take precedence over the routing headers.
func (h *handler) request(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*transport.Request, error) {
	req := &transport.Request{
		Caller:    r.Header.Get(CallerHeader),
		Service:   r.Header.Get(ServiceHeader),
		Procedure: r.Header.Get(ProcedureHeader),
		Encoding:  r.Header.Get(EncodingHeader),
	}
	if s := ps.ByName("service"); s != "" {
		req.Service = s
	}
	if p := ps.ByName("procedure"); p != "" {
		req.Procedure = p
	}

	if ttl := r.Header.Get(TTLHeader); ttl != "" {
		ms, err := strconv.ParseInt(ttl, 10, 64)
		if err != nil || ms < 0 {
			return nil, transport.Errorf(transport.CodeBadRequest, "invalid %s header %q", TTLHeader, ttl)
		}
		req.TTL = time.Duration(ms) * time.Millisecond
	}

	headers := transport.NewHeaders()
	for k, vs := range r.Header {
		if len(vs) == 0 || !strings.HasPrefix(k, ApplicationHeaderPrefix) {
			continue
		}
		headers = headers.With(strings.TrimPrefix(k, ApplicationHeaderPrefix), vs[0])
	}
	req.Headers = headers

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, transport.Errorf(transport.CodeBadRequest, "request body exceeds %d bytes", h.maxBody)
		}
		return nil, transport.Errorf(transport.CodeBadRequest, "failed to read request body: %v", err)
	}
	req.Body = body

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func writeError(w http.ResponseWriter, err error) {
	code := transport.CodeOf(err)
	msg := err.Error()
	if terr := transport.AsError(err); terr != nil {
		msg = terr.Message
	}

	header := w.Header()
	header.Set(StatusHeader, string(code))
	header.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(StatusFromCode(code))
	io.WriteString(w, msg)
}
