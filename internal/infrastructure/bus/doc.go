// Package bus exposes the bridge on the local NATS bus.
//
// The bridge registers an object (default "mqtt") with two request/reply
// methods and one notification subject:
//
//	<object>.state    reply {"connected"|"disconnected": seconds, "state": ..., "tasks": {...}, "topic_*": ...}
//	<object>.publish  JSON object request, published on the venue topic
//	<object>.msg      notification carrying each venue message
//
// Requests arrive on NATS goroutines. Each one is executed on the event
// loop through Executor.Do, bounded by the configured request timeout, and
// answered with a JSON reply {"status": "ok"|"timeout"|"invalid_argument"}.
package bus
