package router

import "errors"

var (
	// ErrMalformedPayload is returned for payloads that fail framing or JSON
	// decoding.
	ErrMalformedPayload = errors.New("router: malformed payload")

	// ErrInvalidCommand is returned for commands without string serial and
	// cmd fields.
	ErrInvalidCommand = errors.New("router: invalid command")

	// ErrSerialMismatch is returned for commands addressed to another device.
	ErrSerialMismatch = errors.New("router: command serial does not match")

	// ErrUnroutable is returned for topics matching no route.
	ErrUnroutable = errors.New("router: no route for topic")
)
