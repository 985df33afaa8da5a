package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// defaultQueueSize bounds the number of closures waiting for the loop.
// Posting blocks once the queue is full.
const defaultQueueSize = 256

// Timer is a re-armable one-shot timer whose callback runs on the loop.
type Timer interface {
	// Set arms the timer to fire after d, replacing any pending expiry.
	Set(d time.Duration)

	// Cancel disarms the timer. Cancelling an idle timer is a no-op.
	Cancel()

	// Pending reports whether an expiry is armed.
	Pending() bool
}

// Scheduler is the part of the loop that components depend on.
// Loop and Fake both implement it.
type Scheduler interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer creates an idle timer that runs fn on the loop when it fires.
	NewTimer(fn func()) Timer

	// Post queues fn to run on the loop. Safe for concurrent use.
	// Returns false if the loop has stopped and fn will never run.
	Post(fn func()) bool
}

// Logger defines the logging interface for the loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Loop runs posted closures sequentially on the goroutine that calls Run.
type Loop struct {
	events  chan func()
	done    chan struct{}
	stop    sync.Once
	running atomic.Bool
	logger  Logger
}

// New creates a loop. Closures may be posted before Run is called; they
// run once the loop starts.
func New() *Loop {
	return &Loop{
		events: make(chan func(), defaultQueueSize),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for recovered panics.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post implements Scheduler.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to return.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The closure may have run just before the loop stopped.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run dispatches posted closures until ctx is cancelled.
// Closures still queued when ctx is cancelled are discarded.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.stop.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.events:
			l.dispatch(fn)
		}
	}
}

// Stopped returns a channel closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.done
}

// dispatch runs one closure, recovering panics so a faulty handler cannot
// take the daemon down.
func (l *Loop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop handler panic recovered", "panic", r)
		}
	}()
	fn()
}

// NewTimer implements Scheduler.
func (l *Loop) NewTimer(fn func()) Timer {
	return &loopTimer{loop: l, fn: fn}
}

// loopTimer backs Timer with time.AfterFunc. The generation counter drops
// expiries that were already posted when the timer was re-armed or cancelled.
type loopTimer struct {
	loop    *Loop
	fn      func()
	t       *time.Timer
	gen     uint64
	pending bool
}

func (t *loopTimer) Set(d time.Duration) {
	t.Cancel()
	t.gen++
	gen := t.gen
	t.pending = true
	t.t = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			if !t.pending || t.gen != gen {
				return
			}
			t.pending = false
			t.t = nil
			t.fn()
		})
	})
}

func (t *loopTimer) Cancel() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.pending = false
}

func (t *loopTimer) Pending() bool {
	return t.pending
}
