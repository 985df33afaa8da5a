package process

import (
	"time"

	"github.com/blogic/ucentral-mqtt/internal/eventloop"
)

// Kind identifies the type of work a task performs.
type Kind string

const (
	KindStats   Kind = "stats"
	KindCommand Kind = "command"
)

// State represents the lifecycle position of a task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateTimedOut
}

// LaunchFunc starts the process backing a task. It must not block.
type LaunchFunc func(t *Task) (Process, error)

// Result is delivered to a task's completion callback.
type Result struct {
	// State is the terminal state of the task.
	State State

	// ExitCode is the helper's exit status, or -1 if it never ran or was
	// killed by a signal.
	ExitCode int

	// Err is nil only for a helper that exited 0. It wraps ErrSpawnFailed,
	// ErrTimedOut, ErrCancelled or ErrExitStatus.
	Err error

	// Duration is the time from process start to exit.
	Duration time.Duration
}

// Success reports whether the helper ran to completion and exited 0.
func (r Result) Success() bool {
	return r.State == StateCompleted && r.Err == nil
}

// Task is one unit of external work.
//
// The exported fields are set by the caller before Submit and must not be
// changed afterwards.
type Task struct {
	// Kind classifies the task for coalescing, logging and metrics.
	Kind Kind

	// Name is a human-readable identifier for logging.
	Name string

	// Timeout bounds the wall-clock run time. Zero disables the timeout.
	Timeout time.Duration

	// Payload is opaque data carried for the launch function.
	Payload []byte

	// Coalesce rejects the submission with ErrAlreadyQueued when another
	// task of the same Kind is queued or running.
	Coalesce bool

	// Launch spawns the process.
	Launch LaunchFunc

	// OnQueued is called by Submit once the task is accepted and has an
	// ID, before it can start or complete. May be nil.
	OnQueued func(t *Task)

	// OnComplete is called exactly once, on the loop, when the task reaches
	// a terminal state. May be nil.
	OnComplete func(t *Task, r Result)

	id        string
	state     State
	proc      Process
	reason    State
	submitted time.Time
	started   time.Time
	timer     eventloop.Timer
	killTimer eventloop.Timer
	exited    chan struct{}
}

// ID returns the identifier assigned at submission, or "" before Submit.
func (t *Task) ID() string {
	return t.id
}

// State returns the task's current state, or "" before Submit.
func (t *Task) State() State {
	return t.state
}

// Pid returns the process ID while the task is running, otherwise 0.
func (t *Task) Pid() int {
	if t.proc == nil {
		return 0
	}
	return t.proc.Pid()
}

func (t *Task) label() string {
	if t.Name != "" {
		return t.Name
	}
	return string(t.Kind)
}
