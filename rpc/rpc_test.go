package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/najoast/yarpc/encoding"
	"github.com/najoast/yarpc/network"
	"github.com/najoast/yarpc/peer"
	"github.com/najoast/yarpc/transport"
	"github.com/najoast/yarpc/transport/local"
	"github.com/najoast/yarpc/transport/tcp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type addRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResponse struct {
	Sum int `json:"sum"`
}

func newServer(t *testing.T) *RPC {
	t.Helper()

	server, err := New(Config{
		Service:  "calc",
		Inbounds: []transport.Inbound{tcp.NewInbound(network.DefaultConfig(), nil)},
	})
	require.NoError(t, err)

	require.NoError(t, server.Register(encoding.Procedure("add", encoding.JSON,
		func(ctx context.Context, req addRequest) (addResponse, error) {
			return addResponse{Sum: req.A + req.B}, nil
		})))
	require.NoError(t, server.RegisterHandler("echo", transport.HandlerFunc(
		func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			headers := transport.NewHeaders().With("caller", req.Caller)
			if _, ok := ctx.Deadline(); ok {
				headers = headers.With("deadline", "yes")
			}
			return &transport.Response{Body: req.Body, Headers: headers}, nil
		})))
	require.NoError(t, server.RegisterHandler("sleep", transport.HandlerFunc(
		func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})))

	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop(context.Background()) })
	return server
}

func newClient(t *testing.T, addr string, mw ...transport.OutboundMiddleware) *RPC {
	t.Helper()

	client, err := New(Config{
		Service: "frontend",
		Outbounds: map[string]transport.Outbound{
			"calc": tcp.NewOutbound(peer.Single(addr), network.DefaultConfig(), nil),
		},
		OutboundMiddleware: mw,
		Loop:               loopOptions(),
	})
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { client.Stop(context.Background()) })
	return client
}

func TestCallOverTCP(t *testing.T) {
	server := newServer(t)
	client := newClient(t, server.Inbounds()[0].Addr())

	ch, err := client.Channel("calc")
	require.NoError(t, err)

	resp, err := ch.Call(context.Background(), "echo", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(resp.Body))
	caller, _ := resp.Headers.Get("caller")
	assert.Equal(t, "frontend", caller)

	sum, err := encoding.Call[addRequest, addResponse](context.Background(), ch, encoding.JSON, "add",
		addRequest{A: 2, B: 3}, transport.Headers{})
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Sum)
}

func TestCallAsync(t *testing.T) {
	server := newServer(t)
	client := newClient(t, server.Inbounds()[0].Addr())
	ch, err := client.Channel("calc")
	require.NoError(t, err)

	futures := make([]interface {
		Get(context.Context) (*transport.Response, error)
	}, 10)
	for i := range futures {
		futures[i] = ch.CallAsync(context.Background(), "echo", []byte{byte('a' + i)})
	}
	for i, f := range futures {
		resp, err := f.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{byte('a' + i)}, resp.Body)
	}
	assert.GreaterOrEqual(t, client.LoopStats().Completed, uint64(10))
}

func TestTTL(t *testing.T) {
	server := newServer(t)
	client := newClient(t, server.Inbounds()[0].Addr())
	ch, err := client.Channel("calc")
	require.NoError(t, err)

	resp, err := ch.Call(context.Background(), "echo", nil, WithTTL(time.Second))
	require.NoError(t, err)
	deadline, _ := resp.Headers.Get("deadline")
	assert.Equal(t, "yes", deadline)

	_, err = ch.Call(context.Background(), "sleep", nil, WithTTL(20*time.Millisecond))
	assert.Equal(t, transport.CodeTimeout, transport.CodeOf(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)
	_, err = ch.Call(ctx, "echo", nil)
	assert.Equal(t, transport.CodeTimeout, transport.CodeOf(err))
}

func TestCanceledCallIsUnavailable(t *testing.T) {
	server := newServer(t)
	client := newClient(t, server.Inbounds()[0].Addr())
	ch, err := client.Channel("calc")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ch.Call(ctx, "echo", nil)
	assert.Equal(t, transport.CodeUnavailable, transport.CodeOf(err))

	ctx, cancel = context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = ch.Call(ctx, "sleep", nil, WithTTL(time.Second))
	assert.Equal(t, transport.CodeUnavailable, transport.CodeOf(err))
}

func TestMetaProcedures(t *testing.T) {
	server := newServer(t)
	client := newClient(t, server.Inbounds()[0].Addr())
	ch, err := client.Channel("calc")
	require.NoError(t, err)

	resp, err := ch.Call(context.Background(), ProceduresProcedure, nil)
	require.NoError(t, err)

	var infos []ProcedureInfo
	require.NoError(t, json.Unmarshal(resp.Body, &infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		assert.Equal(t, "calc", info.Service)
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"add", "echo", HealthProcedure, ProceduresProcedure, "sleep"}, names)

	resp, err = ch.Call(context.Background(), HealthProcedure, nil, WithEncoding("json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Body))
}

func TestErrors(t *testing.T) {
	server := newServer(t)
	client := newClient(t, server.Inbounds()[0].Addr())

	_, err := client.Channel("nobody")
	assert.ErrorIs(t, err, ErrNoOutbound)

	ch, err := client.Channel("calc")
	require.NoError(t, err)

	_, err = ch.Call(context.Background(), "missing", nil)
	assert.Equal(t, transport.CodeUnknownProcedure, transport.CodeOf(err))

	_, err = ch.Call(context.Background(), "add", []byte(`{}`))
	assert.Equal(t, transport.CodeBadRequest, transport.CodeOf(err), "raw body sent to a json procedure")

	_, err = ch.Call(context.Background(), "", nil)
	assert.Equal(t, transport.CodeBadRequest, transport.CodeOf(err))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrServiceRequired)

	_, err = New(Config{Service: "s", Outbounds: map[string]transport.Outbound{"x": nil}})
	assert.Error(t, err)

	_, err = New(Config{Service: "s", DefaultTTL: -time.Second})
	assert.Error(t, err)
}

func TestRegisterDefaultsService(t *testing.T) {
	r, err := New(Config{Service: "svc"})
	require.NoError(t, err)

	procs := []transport.Procedure{{Name: "p", Handler: transport.HandlerFunc(
		func(context.Context, *transport.Request) (*transport.Response, error) { return nil, nil })}}
	require.NoError(t, r.Register(procs...))
	assert.Empty(t, procs[0].Service, "caller's slice must not be modified")

	_, ok := r.Dispatcher().Lookup("svc", "p")
	assert.True(t, ok)
}

func TestStartStopLifecycle(t *testing.T) {
	r, err := New(Config{Service: "svc"})
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}

func TestCallBeforeStart(t *testing.T) {
	target, err := New(Config{Service: "target"})
	require.NoError(t, err)

	r, err := New(Config{
		Service:   "svc",
		Outbounds: map[string]transport.Outbound{"target": local.NewOutbound(target.Dispatcher())},
	})
	require.NoError(t, err)

	ch, err := r.Channel("target")
	require.NoError(t, err)
	_, err = ch.Call(context.Background(), HealthProcedure, nil)
	assert.Equal(t, transport.CodeUnavailable, transport.CodeOf(err))
}

// recordingInbound records lifecycle calls and can fail on Start.
type recordingInbound struct {
	fail    bool
	started int32
	stopped int32
}

func (i *recordingInbound) Name() string { return "recording" }
func (i *recordingInbound) Addr() string { return "" }
func (i *recordingInbound) Start(context.Context, transport.Router) error {
	if i.fail {
		return errors.New("bind failed")
	}
	atomic.AddInt32(&i.started, 1)
	return nil
}
func (i *recordingInbound) Stop(context.Context) error {
	atomic.AddInt32(&i.stopped, 1)
	return nil
}

func TestStartRollsBack(t *testing.T) {
	good := &recordingInbound{}
	bad := &recordingInbound{fail: true}

	r, err := New(Config{Service: "svc", Inbounds: []transport.Inbound{good, bad}})
	require.NoError(t, err)

	err = r.Start(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&good.started))
	assert.EqualValues(t, 1, atomic.LoadInt32(&good.stopped))
	assert.EqualValues(t, 0, atomic.LoadInt32(&bad.stopped))
}

func TestOutboundMiddleware(t *testing.T) {
	server := newServer(t)

	var calls int32
	counting := func(next transport.Outbound) transport.Outbound {
		return transport.OutboundFunc{
			Outbound: next,
			CallFunc: func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				atomic.AddInt32(&calls, 1)
				return next.Call(ctx, req)
			},
		}
	}

	client := newClient(t, server.Inbounds()[0].Addr(), counting)
	ch, err := client.Channel("calc")
	require.NoError(t, err)

	_, err = ch.Call(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
