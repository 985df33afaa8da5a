package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx) //nolint:errcheck // stopped via cancel
	t.Cleanup(func() {
		cancel()
		<-l.Stopped()
	})
	return l, cancel
}

func TestLoopRunsPostedInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatalf("Post(%d) = false, want true", i)
		}
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
	if len(got) != 5 {
		t.Errorf("len(got) = %d, want 5", len(got))
	}
}

func TestLoopRunTwice(t *testing.T) {
	l, _ := startLoop(t)

	// Make sure the first Run has claimed the loop.
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run() error = %v, want ErrRunning", err)
	}
}

func TestLoopPostAfterStop(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()
	<-l.Stopped()

	if l.Post(func() {}) {
		t.Error("Post() after stop = true, want false")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after stop error = %v, want ErrStopped", err)
	}
}

func TestLoopRecoversPanic(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !ran {
		t.Error("loop stopped dispatching after a panic")
	}
}

func TestLoopTimerFires(t *testing.T) {
	l, _ := startLoop(t)

	fired := make(chan struct{})
	var tm Timer
	l.Do(context.Background(), func() { //nolint:errcheck
		tm = l.NewTimer(func() { close(fired) })
		tm.Set(10 * time.Millisecond)
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	var pending bool
	l.Do(context.Background(), func() { pending = tm.Pending() }) //nolint:errcheck
	if pending {
		t.Error("Pending() after expiry = true, want false")
	}
}

func TestLoopTimerCancel(t *testing.T) {
	l, _ := startLoop(t)

	var fired atomic.Bool
	l.Do(context.Background(), func() { //nolint:errcheck
		tm := l.NewTimer(func() { fired.Store(true) })
		tm.Set(20 * time.Millisecond)
		tm.Cancel()
		if tm.Pending() {
			t.Error("Pending() after Cancel = true, want false")
		}
	})

	time.Sleep(60 * time.Millisecond)
	l.Do(context.Background(), func() {}) //nolint:errcheck
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestLoopTimerRearmKeepsOneExpiry(t *testing.T) {
	l, _ := startLoop(t)

	var count atomic.Int32
	l.Do(context.Background(), func() { //nolint:errcheck
		tm := l.NewTimer(func() { count.Add(1) })
		tm.Set(5 * time.Millisecond)
		tm.Set(10 * time.Millisecond)
		tm.Set(15 * time.Millisecond)
	})

	time.Sleep(80 * time.Millisecond)
	l.Do(context.Background(), func() {}) //nolint:errcheck
	if got := count.Load(); got != 1 {
		t.Errorf("timer fired %d times, want 1", got)
	}
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	f := NewFake(time.Unix(1000, 0))

	var order []string
	a := f.NewTimer(func() { order = append(order, "a") })
	b := f.NewTimer(func() { order = append(order, "b") })
	c := f.NewTimer(func() { order = append(order, "c") })

	a.Set(3 * time.Second)
	b.Set(1 * time.Second)
	c.Set(10 * time.Second)

	f.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Errorf("order = %v, want [b a]", order)
	}
	if !c.Pending() {
		t.Error("c.Pending() = false, want true")
	}
	if got := f.PendingTimers(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("PendingTimers() = %v, want [5s]", got)
	}
	if got := f.Now(); !got.Equal(time.Unix(1005, 0)) {
		t.Errorf("Now() = %v, want %v", got, time.Unix(1005, 0))
	}
}

func TestFakeTimerRearmFromCallback(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	count := 0
	var tm Timer
	tm = f.NewTimer(func() {
		count++
		tm.Set(time.Second)
	})
	tm.Set(time.Second)

	f.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestFakeDrainRunsNestedPosts(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	var order []int
	f.Post(func() {
		order = append(order, 1)
		f.Post(func() { order = append(order, 3) })
	})
	f.Post(func() { order = append(order, 2) })

	if n := f.Drain(); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}
