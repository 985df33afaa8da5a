package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually driven Scheduler for tests.
//
// Time only moves when Advance is called. Posted closures queue until
// Drain (or Advance, which drains) runs them on the calling goroutine,
// which plays the role of the loop goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
	posted []func()
	wake   chan struct{}
}

// NewFake creates a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:  start,
		wake: make(chan struct{}, 1),
	}
}

// Now implements Scheduler.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Post implements Scheduler. Safe for concurrent use.
func (f *Fake) Post(fn func()) bool {
	f.mu.Lock()
	f.posted = append(f.posted, fn)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

// NewTimer implements Scheduler.
func (f *Fake) NewTimer(fn func()) Timer {
	t := &fakeTimer{fake: f, fn: fn}
	f.mu.Lock()
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return t
}

// Drain runs posted closures until none are left and returns how many ran.
func (f *Fake) Drain() int {
	ran := 0
	for {
		f.mu.Lock()
		if len(f.posted) == 0 {
			f.mu.Unlock()
			return ran
		}
		fn := f.posted[0]
		f.posted = f.posted[1:]
		f.mu.Unlock()

		fn()
		ran++
	}
}

// WaitPosted blocks until at least one closure is queued or timeout
// elapses. Used when a background goroutine (a process waiter) posts.
func (f *Fake) WaitPosted(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		f.mu.Lock()
		n := len(f.posted)
		f.mu.Unlock()
		if n > 0 {
			return true
		}
		select {
		case <-f.wake:
		case <-deadline:
			return false
		}
	}
}

// Advance moves the clock forward by d, firing due timers in deadline
// order and draining posted closures after each expiry.
func (f *Fake) Advance(d time.Duration) {
	f.Drain()

	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.nextDue(target)
		if t == nil {
			break
		}
		t.fire()
		f.Drain()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// PendingTimers returns the remaining time of every armed timer, shortest first.
func (f *Fake) PendingTimers() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []time.Duration
	for _, t := range f.timers {
		if t.pending {
			out = append(out, t.deadline.Sub(f.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nextDue pops the earliest armed timer due at or before target and moves
// the clock to its deadline.
func (f *Fake) nextDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var next *fakeTimer
	for _, t := range f.timers {
		if !t.pending || t.deadline.After(target) {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) ||
			(t.deadline.Equal(next.deadline) && t.seq < next.seq) {
			next = t
		}
	}
	if next != nil {
		next.pending = false
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
	}
	return next
}

type fakeTimer struct {
	fake     *Fake
	fn       func()
	deadline time.Time
	seq      uint64
	pending  bool
}

func (t *fakeTimer) Set(d time.Duration) {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	t.fake.seq++
	t.seq = t.fake.seq
	t.deadline = t.fake.now.Add(d)
	t.pending = true
}

func (t *fakeTimer) Cancel() {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	t.pending = false
}

func (t *fakeTimer) Pending() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	return t.pending
}

func (t *fakeTimer) fire() {
	t.fn()
}
