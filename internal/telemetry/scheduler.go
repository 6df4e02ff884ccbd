package telemetry

import (
	"sort"
	"time"

	"github.com/Xosrov/webrtc-vtx/internal/clock"
	"github.com/Xosrov/webrtc-vtx/internal/eventloop"
)

// Scheduler runs repeating callbacks on the event loop, keyed by channel
// label. The clock only posts ticks; a tick whose timer was cancelled
// before it reached the loop is dropped there. All methods must be
// called on the loop.
type Scheduler struct {
	clock   clock.Clock
	loop    eventloop.Poster
	entries map[string]*timerEntry
	nextID  uint64
}

type timerEntry struct {
	id       uint64
	interval time.Duration
	fn       func()
	timer    clock.Timer
}

func NewScheduler(c clock.Clock, loop eventloop.Poster) *Scheduler {
	return &Scheduler{clock: c, loop: loop, entries: make(map[string]*timerEntry)}
}

// Every calls fn on the loop every interval until Cancel. An existing
// timer under the same key is replaced.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) uint64 {
	s.Cancel(key)
	s.nextID++
	e := &timerEntry{id: s.nextID, interval: interval, fn: fn}
	s.entries[key] = e
	s.arm(key, e)
	return e.id
}

func (s *Scheduler) arm(key string, e *timerEntry) {
	e.timer = s.clock.AfterFunc(e.interval, func() {
		s.loop.Post(func() { s.fire(key, e.id) })
	})
}

func (s *Scheduler) fire(key string, id uint64) {
	e, ok := s.entries[key]
	if !ok || e.id != id {
		return
	}
	e.fn()
	// fn may have cancelled or replaced its own timer
	if cur, ok := s.entries[key]; ok && cur.id == id {
		s.arm(key, e)
	}
}

// Cancel stops the timer under key. Cancelling an unknown or already
// cancelled key is a no-op.
func (s *Scheduler) Cancel(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// CancelAll stops every timer and returns how many were active.
func (s *Scheduler) CancelAll() int {
	n := len(s.entries)
	for key := range s.entries {
		s.Cancel(key)
	}
	return n
}

func (s *Scheduler) Active(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Keys lists active timers in sorted order.
func (s *Scheduler) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
