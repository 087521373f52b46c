package tcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/najoast/yarpc/dispatch"
	"github.com/najoast/yarpc/network"
	"github.com/najoast/yarpc/peer"
	"github.com/najoast/yarpc/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRouter(t *testing.T) *dispatch.Dispatcher {
	t.Helper()

	d := dispatch.New()
	require.NoError(t, d.Register(
		transport.Procedure{
			Service: "echo",
			Name:    "upper",
			Handler: transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				return &transport.Response{Body: []byte(strings.ToUpper(string(req.Body)))}, nil
			}),
		},
		transport.Procedure{
			Service: "echo",
			Name:    "deadline",
			Handler: transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				if _, ok := ctx.Deadline(); !ok {
					return nil, transport.Errorf(transport.CodeBadRequest, "no deadline")
				}
				return &transport.Response{}, nil
			}),
		},
	))
	return d
}

func startInbound(t *testing.T) *Inbound {
	t.Helper()

	cfg := network.DefaultConfig()
	in := NewInbound(cfg, nil)
	require.NoError(t, in.Start(context.Background(), newRouter(t)))
	t.Cleanup(func() { in.Stop(context.Background()) })
	return in
}

func TestRoundTrip(t *testing.T) {
	in := startInbound(t)
	assert.NotEqual(t, "127.0.0.1:0", in.Addr())

	out := NewOutbound(peer.Single(in.Addr()), network.DefaultConfig(), nil)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(context.Background())

	resp, err := out.Call(context.Background(), &transport.Request{
		Caller:    "test",
		Service:   "echo",
		Procedure: "upper",
		Body:      []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(resp.Body))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = out.Call(ctx, &transport.Request{Service: "echo", Procedure: "deadline"})
	assert.NoError(t, err)
}

func TestErrorCodesCrossTheWire(t *testing.T) {
	in := startInbound(t)

	out := NewOutbound(peer.Single(in.Addr()), network.DefaultConfig(), nil)
	defer out.Stop(context.Background())

	_, err := out.Call(context.Background(), &transport.Request{Service: "echo", Procedure: "missing"})
	assert.Equal(t, transport.CodeUnknownProcedure, transport.CodeOf(err))

	_, err = out.Call(context.Background(), &transport.Request{Service: "nobody", Procedure: "upper"})
	assert.Equal(t, transport.CodeUnknownService, transport.CodeOf(err))
}

func TestOutboundRedialsAfterInboundRestart(t *testing.T) {
	cfg := network.DefaultConfig()
	in := NewInbound(cfg, nil)
	require.NoError(t, in.Start(context.Background(), newRouter(t)))
	addr := in.Addr()

	out := NewOutbound(peer.Single(addr), network.DefaultConfig(), nil)
	defer out.Stop(context.Background())

	req := &transport.Request{Service: "echo", Procedure: "upper", Body: []byte("a")}
	_, err := out.Call(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, in.Stop(context.Background()))

	cfg.Address = addr
	restarted := NewInbound(cfg, nil)
	require.NoError(t, restarted.Start(context.Background(), newRouter(t)))
	defer restarted.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, err := out.Call(context.Background(), req)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStoppedOutbound(t *testing.T) {
	in := startInbound(t)

	out := NewOutbound(peer.Single(in.Addr()), network.DefaultConfig(), nil)
	require.NoError(t, out.Stop(context.Background()))

	_, err := out.Call(context.Background(), &transport.Request{Service: "echo", Procedure: "upper"})
	assert.Equal(t, transport.CodeUnavailable, transport.CodeOf(err))
}

func TestUnreachablePeer(t *testing.T) {
	out := NewOutbound(peer.Single("127.0.0.1:1"), network.DefaultConfig(), nil)
	defer out.Stop(context.Background())

	_, err := out.Call(context.Background(), &transport.Request{Service: "echo", Procedure: "upper"})
	assert.Equal(t, transport.CodeUnavailable, transport.CodeOf(err))
}
