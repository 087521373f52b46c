package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/najoast/yarpc/transport"
)

// Task is a unit of work run by the loop.
type Task func(ctx context.Context) (*transport.Response, error)

// job is a queued task with its future.
type job struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Loop runs tasks on a fixed pool of workers fed by a bounded queue.
type Loop struct {
	opts Options

	queue chan *job

	// Closed when Stop begins
	quit chan struct{}
	// Closed once the workers have exited and the queue is drained
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Held for reading by Submit; Stop takes it to wait out submitters
	mu sync.RWMutex

	state     int32 // State
	submitted uint64
	completed uint64
	failed    uint64
}

// New creates a Loop. Zero option values fall back to DefaultOptions.
func New(opts Options) *Loop {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Name == "" {
		opts.Name = def.Name
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		opts:    opts,
		queue:   make(chan *job, opts.QueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (l *Loop) Start() error {
	if !atomic.CompareAndSwapInt32(&l.state, int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("%w: %s (state: %s)", ErrLoopStarted, l.opts.Name, l.State())
	}

	for i := 0; i < l.opts.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return nil
}

// Stop stops accepting tasks, fails queued tasks with ErrLoopStopped and
// waits for running tasks to finish or ctx to end. A Stop whose ctx ended
// first may be called again to keep waiting.
func (l *Loop) Stop(ctx context.Context) error {
	if l.beginStop() {
		// Unblock submitters waiting for queue space, then wait for every
		// in-flight Submit so no job lands in the queue after the drain.
		close(l.quit)
		l.mu.Lock()
		l.mu.Unlock()

		// Running tasks observe cancellation
		l.cancel()

		go func() {
			l.wg.Wait()
			l.drain()
			atomic.StoreInt32(&l.state, int32(StateStopped))
			close(l.stopped)
		}()
	}

	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s loop: %w", l.opts.Name, ctx.Err())
	}
}

// beginStop moves the loop to StateStopping. It reports false when another
// Stop got there first.
func (l *Loop) beginStop() bool {
	for {
		prev := State(atomic.LoadInt32(&l.state))
		if prev == StateStopping || prev == StateStopped {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.state, int32(prev), int32(StateStopping)) {
			return true
		}
	}
}

// Submit queues task and returns its future. When the queue is full Submit
// waits for space until ctx ends.
func (l *Loop) Submit(ctx context.Context, task Task) *Future {
	taskCtx, cancel := context.WithCancel(ctx)
	f := newFuture(cancel)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if State(atomic.LoadInt32(&l.state)) != StateRunning {
		cancel()
		f.complete(nil, fmt.Errorf("%w: %s", ErrLoopStopped, l.opts.Name))
		return f
	}

	atomic.AddUint64(&l.submitted, 1)

	select {
	case l.queue <- &job{ctx: taskCtx, task: task, future: f}:
	case <-ctx.Done():
		cancel()
		atomic.AddUint64(&l.failed, 1)
		f.complete(nil, ctx.Err())
	case <-l.quit:
		cancel()
		atomic.AddUint64(&l.failed, 1)
		f.complete(nil, fmt.Errorf("%w: %s", ErrLoopStopped, l.opts.Name))
	}

	return f
}

// Stats returns current runtime statistics.
func (l *Loop) Stats() Stats {
	return Stats{
		Name:      l.opts.Name,
		State:     l.State(),
		Workers:   l.opts.Workers,
		Queued:    len(l.queue),
		Submitted: atomic.LoadUint64(&l.submitted),
		Completed: atomic.LoadUint64(&l.completed),
		Failed:    atomic.LoadUint64(&l.failed),
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(atomic.LoadInt32(&l.state))
}

// worker processes jobs until the loop stops.
func (l *Loop) worker() {
	defer l.wg.Done()

	for {
		select {
		case j := <-l.queue:
			l.run(j)
		case <-l.ctx.Done():
			return
		}
	}
}

// run executes one job, converting panics into errors.
func (l *Loop) run(j *job) {
	var (
		resp *transport.Response
		err  error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = transport.Errorf(transport.CodeUnexpected, "task panicked: %v", r)
			}
		}()

		if l.ctx.Err() != nil {
			err = fmt.Errorf("%w: %s", ErrLoopStopped, l.opts.Name)
			return
		}
		if cerr := j.ctx.Err(); cerr != nil {
			err = cerr
			return
		}
		// Stop cancels l.ctx; tie the task to it as well
		ctx, cancel := mergeCancel(j.ctx, l.ctx)
		defer cancel()
		resp, err = j.task(ctx)
	}()

	if err != nil {
		atomic.AddUint64(&l.failed, 1)
	} else {
		atomic.AddUint64(&l.completed, 1)
	}
	j.future.complete(resp, err)
	j.future.cancel()
}

// drain fails every job still in the queue.
func (l *Loop) drain() {
	for {
		select {
		case j := <-l.queue:
			atomic.AddUint64(&l.failed, 1)
			j.future.complete(nil, fmt.Errorf("%w: %s", ErrLoopStopped, l.opts.Name))
			j.future.cancel()
		default:
			return
		}
	}
}

// mergeCancel returns a context derived from ctx that is also cancelled
// when other is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
