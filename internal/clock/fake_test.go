package clock

import (
	"sync"
	"testing"
	"time"
)

func TestFakeAfterFuncFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })

	c.Advance(5 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("fired early: %v", order)
	}
	c.Advance(20 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeRearmInsideCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(10*time.Millisecond, tick)
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(35 * time.Millisecond)
	if count != 3 {
		t.Fatalf("expected 3 ticks, got %d", count)
	}
}

func TestFakeSharedDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)
	var seen []time.Time
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		c.AfterFunc(10*time.Millisecond, func() {
			mu.Lock()
			seen = append(seen, c.Now())
			mu.Unlock()
		})
	}

	c.Advance(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("fired %d of 3 timers", len(seen))
	}
	for _, now := range seen {
		if !now.Equal(start.Add(10 * time.Millisecond)) {
			t.Fatalf("callback saw %s", now)
		}
	}
	if c.Pending() != 0 || !c.Now().Equal(start.Add(10*time.Millisecond)) {
		t.Fatalf("pending=%d now=%s", c.Pending(), c.Now())
	}
}

func TestRealAfterFunc(t *testing.T) {
	fired := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	if !Real().AfterFunc(time.Hour, func() {}).Stop() {
		t.Fatal("Stop on a pending timer should report true")
	}
}
