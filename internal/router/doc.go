// Package router classifies inbound broker messages and gates outbound ones.
//
// Inbound messages on the venue topic are forwarded to the local bus as a
// "msg" notification. Messages on the device command topic are validated and
// handed to the command runner. Outbound payloads are NUL-terminated JSON and
// go through the connection, which refuses them while not connected.
//
// Router methods must be called from the event loop goroutine.
package router
