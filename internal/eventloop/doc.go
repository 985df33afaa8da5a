// Package eventloop provides the single-goroutine dispatcher that owns all
// mutable daemon state.
//
// Every asynchronous source in the daemon (MQTT library callbacks, helper
// process exits, local bus requests, timers) hands work to the loop as a
// closure. The loop runs closures one at a time, in the order they were
// posted, so the connection machine, task queue and router never need locks.
//
//	loop := eventloop.New()
//	retry := loop.NewTimer(func() { machine.Reconnect() })
//	retry.Set(30 * time.Second)
//	err := loop.Run(ctx)
//
// Set re-arms a timer and replaces any pending expiry. Cancel disarms it.
// A timer never has more than one pending expiry.
// Timer methods must only be called from the loop goroutine.
//
// Fake is a manually driven Scheduler for tests.
package eventloop
