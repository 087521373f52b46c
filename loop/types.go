package loop

import (
	"errors"
)

// Loop errors
var (
	ErrLoopStopped = errors.New("event loop is stopped")
	ErrLoopStarted = errors.New("event loop is already started")
)

// State represents the lifecycle state of a Loop.
type State int32

const (
	// StateIdle means the loop has not been started
	StateIdle State = iota

	// StateRunning means workers are processing tasks
	StateRunning

	// StateStopping means the loop is draining
	StateStopping

	// StateStopped means the loop has stopped
	StateStopped
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Loop.
type Options struct {
	// Workers is the number of goroutines executing tasks
	Workers int

	// QueueSize bounds the number of tasks waiting for a worker
	QueueSize int

	// Name is used in log and error messages
	Name string
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Workers:   8,
		QueueSize: 1024,
		Name:      "rpc",
	}
}

// Stats contains runtime statistics for a Loop.
type Stats struct {
	Name      string
	State     State
	Workers   int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
}
