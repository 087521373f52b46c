package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/najoast/yarpc/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func respond(body string) Task {
	return func(ctx context.Context) (*transport.Response, error) {
		return &transport.Response{Body: []byte(body)}, nil
	}
}

func TestSubmitAndGet(t *testing.T) {
	l := New(Options{Workers: 2, QueueSize: 4})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	defer l.Stop(context.Background())

	f := l.Submit(context.Background(), respond("pong"))
	resp, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(resp.Body) != "pong" {
		t.Errorf("Expected 'pong', got %q", resp.Body)
	}

	if _, _, ok := f.Result(); !ok {
		t.Error("Expected completed future to report a result")
	}
}

func TestStartTwice(t *testing.T) {
	l := New(DefaultOptions())
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	defer l.Stop(context.Background())

	if err := l.Start(); !errors.Is(err, ErrLoopStarted) {
		t.Errorf("Expected ErrLoopStarted, got %v", err)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	l := New(DefaultOptions())
	_, err := l.Submit(context.Background(), respond("x")).Get(context.Background())
	if !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Expected ErrLoopStopped, got %v", err)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	l := New(Options{Workers: 4, QueueSize: 8})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	defer l.Stop(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Submit(context.Background(), respond("ok")).Get(context.Background()); err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	stats := l.Stats()
	if stats.Submitted != 100 || stats.Completed != 100 {
		t.Errorf("Expected 100 submitted and completed, got %+v", stats)
	}
}

func TestGetTimesOutWithoutCancellingTask(t *testing.T) {
	l := New(Options{Workers: 1, QueueSize: 1})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	defer l.Stop(context.Background())

	release := make(chan struct{})
	f := l.Submit(context.Background(), func(ctx context.Context) (*transport.Response, error) {
		<-release
		return &transport.Response{Body: []byte("late")}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}

	close(release)
	resp, err := f.Get(context.Background())
	if err != nil || string(resp.Body) != "late" {
		t.Errorf("Expected late result, got %v / %v", resp, err)
	}
}

func TestFutureCancel(t *testing.T) {
	l := New(Options{Workers: 1, QueueSize: 1})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	defer l.Stop(context.Background())

	started := make(chan struct{})
	f := l.Submit(context.Background(), func(ctx context.Context) (*transport.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	<-started
	f.Cancel()
	if _, err := f.Get(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	l := New(Options{Workers: 1, QueueSize: 1})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	defer l.Stop(context.Background())

	_, err := l.Submit(context.Background(), func(ctx context.Context) (*transport.Response, error) {
		panic("boom")
	}).Get(context.Background())
	if transport.CodeOf(err) != transport.CodeUnexpected {
		t.Errorf("Expected unexpected error, got %v", err)
	}
}

func TestStopFailsQueuedTasks(t *testing.T) {
	l := New(Options{Workers: 1, QueueSize: 4})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}

	started := make(chan struct{})
	running := l.Submit(context.Background(), func(ctx context.Context) (*transport.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	queued := l.Submit(context.Background(), respond("never"))

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop loop: %v", err)
	}

	if _, err := running.Get(context.Background()); err == nil {
		t.Error("Expected running task to observe cancellation")
	}
	if _, err := queued.Get(context.Background()); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Expected ErrLoopStopped for queued task, got %v", err)
	}
	if l.State() != StateStopped {
		t.Errorf("Expected state %s, got %s", StateStopped, l.State())
	}

	if _, err := l.Submit(context.Background(), respond("x")).Get(context.Background()); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Expected ErrLoopStopped after stop, got %v", err)
	}
}

func TestStopAgainAfterTimeoutWaits(t *testing.T) {
	l := New(Options{Workers: 1, QueueSize: 1})
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	l.Submit(context.Background(), func(ctx context.Context) (*transport.Response, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if l.State() != StateStopping {
		t.Errorf("Expected state %s, got %s", StateStopping, l.State())
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(context.Background()) }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v before the running task finished", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Errorf("Failed to stop loop: %v", err)
	}
	if l.State() != StateStopped {
		t.Errorf("Expected state %s, got %s", StateStopped, l.State())
	}
}
