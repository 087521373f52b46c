package loop

import (
	"context"
	"sync"

	"github.com/najoast/yarpc/transport"
)

// Future is the pending result of a submitted task.
type Future struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	resp *transport.Response
	err  error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Failed returns a Future that has already completed with err.
func Failed(err error) *Future {
	f := newFuture(func() {})
	f.complete(nil, err)
	return f
}

// complete resolves the future. Only the first call has any effect.
func (f *Future) complete(resp *transport.Response, err error) bool {
	completed := false
	f.once.Do(func() {
		f.resp = resp
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result. If ctx ends first, Get returns the context error
// and the task keeps running; use Cancel to stop it.
func (f *Future) Get(ctx context.Context) (*transport.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the result without blocking. ok is false while pending.
func (f *Future) Result() (resp *transport.Response, err error, ok bool) {
	select {
	case <-f.done:
		return f.resp, f.err, true
	default:
		return nil, nil, false
	}
}

// Cancel cancels the context seen by the task.
func (f *Future) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}
