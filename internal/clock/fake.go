package clock

import (
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Fake is a deterministic Clock for tests, driven by a benbjohnson mock.
// Time only moves when Advance is called. Advance fires due timers one at
// a time in deadline order and returns once every fired callback has
// returned, however the mock dispatches them. Callbacks must not call
// Advance.
type Fake struct {
	mock *bclock.Mock

	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	timer    *bclock.Timer
	fired    chan struct{}
	done     bool
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	mock := bclock.NewMock()
	mock.Set(start)
	return &Fake{mock: mock}
}

func (c *Fake) Now() time.Time { return c.mock.Now() }

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.mock.Now().Add(d), fired: make(chan struct{})}
	t.timer = c.mock.AfterFunc(d, func() {
		defer close(t.fired)
		f()
	})
	c.pending = append(c.pending, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.timer.Stop()
	return true
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is reached, earliest first. While a callback runs, Now reports
// that timer's deadline, so a timer re-armed from a callback fires again
// within the same Advance when its new deadline is still inside the
// window.
func (c *Fake) Advance(d time.Duration) {
	target := c.mock.Now().Add(d)
	for {
		deadline, due := c.next(target)
		if len(due) == 0 {
			break
		}
		wait := deadline.Sub(c.mock.Now())
		if wait < 0 {
			wait = 0
		}
		c.mock.Add(wait)
		for _, t := range due {
			<-t.fired
		}
	}
	if wait := target.Sub(c.mock.Now()); wait > 0 {
		c.mock.Add(wait)
	}
}

// next claims the timers sharing the earliest deadline not after target.
func (c *Fake) next(target time.Time) (time.Time, []*fakeTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.pending[:0]
	var earliest time.Time
	found := false
	for _, t := range c.pending {
		if t.done {
			continue
		}
		remaining = append(remaining, t)
		if t.deadline.After(target) {
			continue
		}
		if !found || t.deadline.Before(earliest) {
			earliest, found = t.deadline, true
		}
	}
	c.pending = remaining
	if !found {
		return earliest, nil
	}
	var due []*fakeTimer
	for _, t := range c.pending {
		if !t.done && t.deadline.Equal(earliest) {
			t.done = true
			due = append(due, t)
		}
	}
	return earliest, due
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.done {
			n++
		}
	}
	return n
}
