package eventloop

import "errors"

var (
	// ErrStopped is returned when work is handed to a loop that has exited.
	ErrStopped = errors.New("eventloop: loop stopped")

	// ErrRunning is returned when Run is called on a loop that is already running.
	ErrRunning = errors.New("eventloop: loop already running")
)
