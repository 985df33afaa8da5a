package connection

import "errors"

var (
	// ErrNotConnected is returned by Publish unless the machine is Connected.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrAlreadyStarted is returned when Start is called on a running machine.
	ErrAlreadyStarted = errors.New("connection: already started")

	// ErrPublishFailed wraps a session error while Connected.
	ErrPublishFailed = errors.New("connection: publish failed")
)
