package bus

import "errors"

var (
	// ErrConnectionFailed is returned when the bus cannot be reached at startup.
	ErrConnectionFailed = errors.New("bus: connection failed")

	// ErrNotConnected is returned when notifying on a closed connection.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrInvalidRequest is returned for request payloads that are not a JSON object.
	ErrInvalidRequest = errors.New("bus: invalid request")
)
