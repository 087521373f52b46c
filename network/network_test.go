package network

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/najoast/yarpc/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFrameCodecEncodeDecode(t *testing.T) {
	codec := NewFrameCodec(0)
	in := &Frame{Type: FrameRequest, Flags: 7, ID: 42, Payload: []byte("hello")}

	data, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	if len(data) != FrameHeaderSize+5 {
		t.Errorf("Expected %d bytes, got %d", FrameHeaderSize+5, len(data))
	}

	out, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if out.Type != in.Type || out.Flags != in.Flags || out.ID != in.ID || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("Decoded frame %+v does not match %+v", out, in)
	}
}

func TestFrameCodecRejectsBadInput(t *testing.T) {
	codec := NewFrameCodec(8)

	if _, err := codec.Encode(&Frame{Type: FrameRequest, Payload: make([]byte, 9)}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}

	if _, err := codec.Decode([]byte{1, 2, 3}); !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("Expected ErrFrameTruncated, got %v", err)
	}

	good, _ := codec.Encode(&Frame{Type: FramePing, ID: 1})
	bad := append([]byte(nil), good...)
	bad[0] = 9
	if _, err := codec.Decode(bad); !errors.Is(err, ErrFrameVersion) {
		t.Errorf("Expected ErrFrameVersion, got %v", err)
	}

	bad = append([]byte(nil), good...)
	bad[1] = 99
	if _, err := codec.Decode(bad); !errors.Is(err, ErrUnknownFrameType) {
		t.Errorf("Expected ErrUnknownFrameType, got %v", err)
	}

	if _, err := codec.Decode(append(good, 0)); !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("Expected trailing bytes to be rejected, got %v", err)
	}
}

func TestReadFrameStream(t *testing.T) {
	codec := NewFrameCodec(0)
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		if err := codec.WriteFrame(&buf, &Frame{Type: FrameResponse, ID: i, Payload: []byte{byte(i)}}); err != nil {
			t.Fatalf("Failed to write frame: %v", err)
		}
	}

	for i := uint64(1); i <= 3; i++ {
		f, err := codec.ReadFrame(&buf)
		if err != nil {
			t.Fatalf("Failed to read frame %d: %v", i, err)
		}
		if f.ID != i {
			t.Errorf("Expected frame id %d, got %d", i, f.ID)
		}
	}
}

func TestEnvelopes(t *testing.T) {
	req := &transport.Request{
		Caller:    "client",
		Service:   "kv",
		Procedure: "get",
		Encoding:  "json",
		Headers:   transport.NewHeaders().With("Token", "t"),
		Body:      []byte(`{"key":"a"}`),
		TTL:       1500 * time.Millisecond,
	}

	f, err := RequestFrame(9, req)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	got, err := DecodeRequest(f)
	if err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}
	if got.Service != "kv" || got.Procedure != "get" || got.Caller != "client" || got.TTL != req.TTL {
		t.Errorf("Decoded request %+v does not match %+v", got, req)
	}
	if v, _ := got.Headers.Get("token"); v != "t" {
		t.Errorf("Expected header token=t, got %q", v)
	}

	ef, err := ResponseFrame(9, nil, transport.Errorf(transport.CodeUnknownProcedure, "nope"))
	if err != nil {
		t.Fatalf("Failed to encode error: %v", err)
	}
	if ef.Type != FrameError {
		t.Errorf("Expected error frame, got %s", ef.Type)
	}
	_, err = DecodeResponse(ef)
	if transport.CodeOf(err) != transport.CodeUnknownProcedure {
		t.Errorf("Expected unknown-procedure, got %v", err)
	}
}

func TestSubMillisecondTTLSurvives(t *testing.T) {
	f, err := RequestFrame(1, &transport.Request{Service: "s", Procedure: "p", TTL: time.Microsecond})
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	got, _ := DecodeRequest(f)
	if got.TTL <= 0 {
		t.Errorf("Expected positive TTL, got %s", got.TTL)
	}
}

// staticRouter answers every request by echoing its body, except the
// "fail" procedure.
type staticRouter struct{}

func (staticRouter) Handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	switch req.Procedure {
	case "fail":
		return nil, transport.Errorf(transport.CodeApplication, "failed on purpose")
	case "slow":
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &transport.Response{Body: req.Body, Headers: req.Headers}, nil
}

func (staticRouter) Procedures() []transport.Procedure { return nil }

func startServer(t *testing.T) *Server {
	t.Helper()

	cfg := DefaultConfig()
	srv := NewServer(cfg, func(ctx context.Context, conn *Conn) {
		ServeConn(ctx, conn, staticRouter{}, nil)
	}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func TestClientServerRoundTrip(t *testing.T) {
	srv := startServer(t)

	conn, err := Dial(context.Background(), srv.Addr().String(), DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	client := NewClient(conn, nil)
	defer client.Close()

	ctx := context.Background()
	resp, err := client.Call(ctx, &transport.Request{Service: "s", Procedure: "echo", Body: []byte("ping")})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(resp.Body) != "ping" {
		t.Errorf("Expected 'ping', got %q", resp.Body)
	}

	_, err = client.Call(ctx, &transport.Request{Service: "s", Procedure: "fail"})
	if transport.CodeOf(err) != transport.CodeApplication {
		t.Errorf("Expected application error, got %v", err)
	}

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if srv.ConnectionCount() != 1 {
		t.Errorf("Expected 1 connection, got %d", srv.ConnectionCount())
	}
}

func TestClientTimeout(t *testing.T) {
	srv := startServer(t)

	conn, err := Dial(context.Background(), srv.Addr().String(), DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	client := NewClient(conn, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Call(ctx, &transport.Request{Service: "s", Procedure: "slow"})
	if transport.CodeOf(err) != transport.CodeTimeout {
		t.Errorf("Expected timeout, got %v", err)
	}
	if client.Pending() != 0 {
		t.Errorf("Expected no pending calls, got %d", client.Pending())
	}
}

func TestClientFailsPendingOnClose(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	client := NewClient(NewConn(server, Config{}), nil)

	// Drain the request so the write completes, then drop the connection
	go func() {
		NewFrameCodec(0).ReadFrame(peer)
		peer.Close()
	}()

	_, err := client.Call(context.Background(), &transport.Request{Service: "s", Procedure: "p"})
	if transport.CodeOf(err) != transport.CodeUnavailable {
		t.Errorf("Expected unavailable, got %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected client to be done")
	}
	client.Close()
}

func TestServerConnectionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1

	hold := make(chan struct{})
	srv := NewServer(cfg, func(ctx context.Context, conn *Conn) {
		select {
		case <-hold:
		case <-ctx.Done():
		}
	}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop(context.Background())
	defer close(hold)

	first, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(time.Second)
	for srv.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Error("Expected second connection to be closed by the server")
	}
	if srv.Stats().Rejected != 1 {
		t.Errorf("Expected 1 rejected connection, got %d", srv.Stats().Rejected)
	}
}

func TestPoolDialDoesNotBlockOtherAddresses(t *testing.T) {
	srv := startServer(t)

	dialing := make(chan struct{})
	dial := func(ctx context.Context, address string) (FrameConn, error) {
		if address == "dead" {
			close(dialing)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return Dial(ctx, srv.Addr().String(), DefaultConfig())
	}
	pool := NewPool(dial, nil)
	defer pool.Close()

	deadCtx, cancel := context.WithCancel(context.Background())
	deadErr := make(chan error, 1)
	go func() {
		_, err := pool.Get(deadCtx, "dead")
		deadErr <- err
	}()
	<-dialing

	start := time.Now()
	if _, err := pool.Get(context.Background(), "healthy"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Get of a healthy peer waited %v behind another dial", elapsed)
	}

	cancel()
	if err := <-deadErr; transport.CodeOf(err) != transport.CodeUnavailable {
		t.Errorf("Expected unavailable, got %v", err)
	}
	if pool.Len() != 1 {
		t.Errorf("Expected 1 cached client, got %d", pool.Len())
	}
}

func TestPoolSharesConcurrentDials(t *testing.T) {
	srv := startServer(t)

	var dials atomic.Int32
	release := make(chan struct{})
	dial := func(ctx context.Context, address string) (FrameConn, error) {
		dials.Add(1)
		<-release
		return Dial(ctx, srv.Addr().String(), DefaultConfig())
	}
	pool := NewPool(dial, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	clients := make([]*Client, 4)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := pool.Get(context.Background(), "peer")
			if err != nil {
				t.Errorf("Get failed: %v", err)
			}
			clients[i] = c
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := dials.Load(); n != 1 {
		t.Errorf("Expected 1 dial, got %d", n)
	}
	for _, c := range clients[1:] {
		if c != clients[0] {
			t.Errorf("Expected every caller to share one client")
		}
	}
}
