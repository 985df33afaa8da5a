// Package process runs bounded external helper programs one at a time.
//
// A Queue executes Tasks on an event loop. Each task's Launch function
// spawns a child process; the queue arms a wall-clock timeout, observes the
// exit from a waiter goroutine that posts back onto the loop, and invokes the
// task's completion callback exactly once.
//
// Features:
//   - Global concurrency limit (one running helper by default)
//   - FIFO waiting across task kinds
//   - Timeout and cancellation via SIGTERM to the process group, then SIGKILL
//   - Coalescing of periodic work that is already queued or running
//   - Log capture from helper stdout/stderr
//
// Example usage:
//
//	q := process.NewQueue(loop, process.Config{MaxRunning: 1, KillGrace: 5 * time.Second})
//	err := q.Submit(&process.Task{
//	    Kind:    process.KindStats,
//	    Timeout: 10 * time.Second,
//	    Launch:  process.Exec(process.ExecConfig{Name: "stats", Binary: "/usr/sbin/usync_stats.sh"}),
//	    OnComplete: func(t *process.Task, r process.Result) {
//	        // runs on the loop
//	    },
//	}, false)
//
// All Queue methods except Shutdown must be called from the loop goroutine.
package process
