// Package connection owns the broker session lifecycle.
//
// A Machine moves between four states:
//
//	Disconnected → Connecting      Start
//	Connecting   → Connected       broker accepted the session
//	Connecting   → Reconnecting    connect failed (retry after the reconnect delay)
//	Connected    → Reconnecting    session lost (retry after the connect timeout)
//	Reconnecting → Connecting      retry timer fired
//	any          → Disconnected    Stop
//
// A service timer drains the session's event inbox at a fixed short
// interval in every state; it is the only place broker events are handled.
// While Connected a stats timer triggers statistics collection periodically.
//
// The reconnect delay starts at a configured base and, after every failed
// or lost connection, becomes (delay*2) mod 15m, never below the base. It
// returns to the base on every successful connect. The modulus means the
// delay can shrink after growing past 7m30s.
//
// All methods must be called from the event loop goroutine.
package connection
