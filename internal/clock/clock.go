// injectable time source for telemetry timers
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock is the subset of a clock the telemetry scheduler needs.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the
	// call stopped the timer.
	Stop() bool
}

type wrapped struct {
	c bclock.Clock
}

// Real returns a Clock backed by the system clock.
func Real() Clock { return wrapped{c: bclock.New()} }

func (w wrapped) Now() time.Time { return w.c.Now() }

func (w wrapped) AfterFunc(d time.Duration, f func()) Timer {
	return w.c.AfterFunc(d, f)
}
