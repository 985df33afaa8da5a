package process

import "errors"

var (
	// ErrSpawnFailed is reported when a task's launch function cannot start a process.
	ErrSpawnFailed = errors.New("process: spawn failed")

	// ErrTimedOut is reported when a task was terminated after its timeout elapsed.
	ErrTimedOut = errors.New("process: timed out")

	// ErrCancelled is reported when a task was cancelled before it finished.
	ErrCancelled = errors.New("process: cancelled")

	// ErrExitStatus is reported when a helper exits non-zero or is killed by a signal.
	ErrExitStatus = errors.New("process: non-zero exit status")

	// ErrAlreadyQueued is returned when a coalescing task of the same kind is
	// already queued or running.
	ErrAlreadyQueued = errors.New("process: task of this kind already pending")

	// ErrAlreadySubmitted is returned when a task value is submitted twice.
	ErrAlreadySubmitted = errors.New("process: task already submitted")

	// ErrInvalidTask is returned when a task has no launch function.
	ErrInvalidTask = errors.New("process: task has no launch function")

	// ErrClosed is returned when submitting to a queue that has been shut down.
	ErrClosed = errors.New("process: queue closed")
)
