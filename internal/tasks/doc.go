// Package tasks adapts the two helper programs to the process queue.
//
// Stats runs the stats collector, reads the JSON object it leaves in a
// scratch file and publishes it to the venue stats topic. Command writes a
// validated remote command to a fresh scratch file and runs the command
// handler on it.
//
// Both adapters run on the event loop: Trigger, Run and every completion
// callback must be called from the loop goroutine.
package tasks
