package process

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/blogic/ucentral-mqtt/internal/eventloop"
)

// Default values applied by NewQueue for zero Config fields.
const (
	DefaultMaxRunning = 1
	DefaultKillGrace  = 5 * time.Second
)

// Config holds configuration for a task queue.
type Config struct {
	// MaxRunning is the global concurrency limit across all task kinds.
	MaxRunning int

	// KillGrace is how long a terminated helper has to exit after SIGTERM
	// before the process group receives SIGKILL.
	KillGrace time.Duration
}

// Logger defines the logging interface for the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is notified of every task that reaches a terminal state,
// after the task's own completion callback.
type Observer func(t *Task, r Result)

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Queue serializes helper execution on an event loop.
type Queue struct {
	sched    eventloop.Scheduler
	config   Config
	logger   Logger
	observer Observer

	waiting []*Task
	running []*Task
	closed  bool
}

// NewQueue creates a queue that dispatches on sched.
func NewQueue(sched eventloop.Scheduler, cfg Config) *Queue {
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = DefaultMaxRunning
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}

	return &Queue{
		sched:  sched,
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// SetObserver registers a completion observer. Pass nil to remove it.
func (q *Queue) SetObserver(obs Observer) {
	q.observer = obs
}

// Submit enqueues t and returns without waiting for it to run.
//
// With allowConcurrent false the task waits in FIFO order behind every
// queued task until a slot is free. With allowConcurrent true it starts
// immediately regardless of the limit, though it still occupies a slot
// while it runs.
//
// A spawn failure is not returned here; it is reported through the
// completion callback like any other failure.
func (q *Queue) Submit(t *Task, allowConcurrent bool) error {
	if q.closed {
		return ErrClosed
	}
	if t.Launch == nil {
		return ErrInvalidTask
	}
	if t.state != "" {
		return ErrAlreadySubmitted
	}
	if t.Coalesce && q.hasKind(t.Kind) {
		q.logger.Debug("task coalesced", "kind", t.Kind, "name", t.label())
		return ErrAlreadyQueued
	}

	t.id = uuid.NewString()
	t.state = StateQueued
	t.submitted = q.sched.Now()

	q.logger.Debug("task queued",
		"task", t.id,
		"kind", t.Kind,
		"name", t.label(),
		"running", len(q.running),
		"waiting", len(q.waiting),
	)
	if t.OnQueued != nil {
		t.OnQueued(t)
	}

	if allowConcurrent {
		q.start(t)
		return nil
	}

	q.waiting = append(q.waiting, t)
	q.advance()
	return nil
}

// Cancel stops t.
//
// A queued task is removed without starting a process and completes as
// cancelled. A running task is terminated and completes as cancelled once
// its process has exited. Cancelling a terminal task is a no-op.
func (q *Queue) Cancel(t *Task) {
	switch t.state {
	case StateQueued:
		q.removeWaiting(t)
		q.logger.Debug("queued task cancelled", "task", t.id, "kind", t.Kind)
		q.finish(t, Result{State: StateCancelled, ExitCode: -1, Err: ErrCancelled})
	case StateRunning:
		if t.reason != "" {
			return
		}
		t.reason = StateCancelled
		q.logger.Info("cancelling task", "task", t.id, "kind", t.Kind, "pid", t.Pid())
		q.terminate(t)
	}
}

// Stats returns the current queue occupancy.
func (q *Queue) Stats() Stats {
	return Stats{Queued: len(q.waiting), Running: len(q.running)}
}

// Shutdown stops accepting work, drops waiting tasks and terminates running
// helpers, escalating to SIGKILL after the kill grace period.
//
// It blocks until every running helper has exited or ctx is done, and must
// be called after the event loop has stopped: completion callbacks are not
// delivered.
func (q *Queue) Shutdown(ctx context.Context) {
	q.closed = true

	if n := len(q.waiting); n > 0 {
		q.logger.Info("dropping queued tasks", "count", n)
	}
	q.waiting = nil

	running := q.running
	if len(running) == 0 {
		return
	}

	for _, t := range running {
		q.logger.Info("stopping task", "task", t.id, "kind", t.Kind, "pid", t.Pid())
		q.signal(t, syscall.SIGTERM)
	}

	grace := time.NewTimer(q.config.KillGrace)
	defer grace.Stop()

	for _, t := range running {
		select {
		case <-t.exited:
			continue
		case <-ctx.Done():
			return
		case <-grace.C:
		}

		q.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"task", t.id,
			"timeout", q.config.KillGrace,
		)
		for _, k := range running {
			q.signal(k, syscall.SIGKILL)
		}
		break
	}

	for _, t := range running {
		select {
		case <-t.exited:
		case <-ctx.Done():
			return
		}
	}
}

// advance starts waiting tasks while slots are free.
func (q *Queue) advance() {
	for len(q.waiting) > 0 && len(q.running) < q.config.MaxRunning {
		t := q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]
		q.start(t)
	}
}

// start launches t. A spawn failure completes the task without taking a slot.
func (q *Queue) start(t *Task) {
	proc, err := t.Launch(t)
	if err != nil {
		q.logger.Error("failed to spawn helper",
			"task", t.id,
			"kind", t.Kind,
			"name", t.label(),
			"error", err,
		)
		q.finish(t, Result{
			State:    StateCompleted,
			ExitCode: -1,
			Err:      fmt.Errorf("%w: %w", ErrSpawnFailed, err),
		})
		return
	}

	t.proc = proc
	t.state = StateRunning
	t.started = q.sched.Now()
	t.exited = make(chan struct{})
	q.running = append(q.running, t)

	if t.Timeout > 0 {
		t.timer = q.sched.NewTimer(func() { q.expire(t) })
		t.timer.Set(t.Timeout)
	}

	q.logger.Info("task started",
		"task", t.id,
		"kind", t.Kind,
		"name", t.label(),
		"pid", proc.Pid(),
		"timeout", t.Timeout,
		"queued_for", t.started.Sub(t.submitted),
	)

	exited := t.exited
	go func() {
		exit := proc.Wait()
		close(exited)
		q.sched.Post(func() { q.exited(t, exit) })
	}()
}

// expire handles a task whose timeout elapsed.
func (q *Queue) expire(t *Task) {
	if t.state != StateRunning || t.reason != "" {
		return
	}
	t.reason = StateTimedOut
	q.logger.Warn("task timed out, terminating",
		"task", t.id,
		"kind", t.Kind,
		"pid", t.Pid(),
		"timeout", t.Timeout,
	)
	q.terminate(t)
}

// terminate sends SIGTERM and arms the SIGKILL escalation.
func (q *Queue) terminate(t *Task) {
	q.signal(t, syscall.SIGTERM)

	t.killTimer = q.sched.NewTimer(func() {
		if t.state != StateRunning {
			return
		}
		q.logger.Warn("helper ignored SIGTERM, sending SIGKILL",
			"task", t.id,
			"pid", t.Pid(),
			"grace", q.config.KillGrace,
		)
		q.signal(t, syscall.SIGKILL)
	})
	t.killTimer.Set(q.config.KillGrace)
}

func (q *Queue) signal(t *Task, sig syscall.Signal) {
	if t.proc == nil {
		return
	}
	if err := t.proc.Signal(sig); err != nil {
		q.logger.Warn("failed to signal helper", "task", t.id, "signal", sig, "error", err)
	}
}

// exited runs on the loop once the waiter goroutine has collected the exit.
func (q *Queue) exited(t *Task, exit Exit) {
	if t.state != StateRunning {
		return
	}

	if t.timer != nil {
		t.timer.Cancel()
	}
	if t.killTimer != nil {
		t.killTimer.Cancel()
	}
	q.removeRunning(t)
	t.proc = nil

	r := Result{
		State:    StateCompleted,
		ExitCode: exit.Code,
		Duration: q.sched.Now().Sub(t.started),
	}

	switch {
	case t.reason == StateTimedOut:
		r.State = StateTimedOut
		r.Err = ErrTimedOut
	case t.reason == StateCancelled:
		r.State = StateCancelled
		r.Err = ErrCancelled
	case exit.Err != nil:
		r.Err = fmt.Errorf("%w: %w", ErrExitStatus, exit.Err)
	case exit.Signal != 0:
		r.Err = fmt.Errorf("%w: killed by %s", ErrExitStatus, exit.Signal)
	case exit.Code != 0:
		r.Err = fmt.Errorf("%w: exit code %d", ErrExitStatus, exit.Code)
	}

	if r.Err != nil {
		q.logger.Warn("task failed",
			"task", t.id,
			"kind", t.Kind,
			"state", r.State,
			"exit_code", r.ExitCode,
			"duration", r.Duration,
			"error", r.Err,
		)
	} else {
		q.logger.Info("task completed",
			"task", t.id,
			"kind", t.Kind,
			"duration", r.Duration,
		)
	}

	q.finish(t, r)
	q.advance()
}

// finish moves t to its terminal state and notifies the callback and observer.
func (q *Queue) finish(t *Task, r Result) {
	t.state = r.State
	if t.OnComplete != nil {
		t.OnComplete(t, r)
	}
	if q.observer != nil {
		q.observer(t, r)
	}
}

func (q *Queue) hasKind(kind Kind) bool {
	for _, t := range q.running {
		if t.Kind == kind {
			return true
		}
	}
	for _, t := range q.waiting {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

func (q *Queue) removeWaiting(t *Task) {
	for i, w := range q.waiting {
		if w == t {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (q *Queue) removeRunning(t *Task) {
	for i, r := range q.running {
		if r == t {
			q.running = append(q.running[:i], q.running[i+1:]...)
			return
		}
	}
}
