// single goroutine event loop and off-loop workers
package eventloop

import (
	"context"
	"sync"
)

// Poster enqueues a function onto the loop that owns session state.
type Poster interface {
	Post(fn func()) bool
}

// Submitter runs blocking work away from the loop.
type Submitter interface {
	Submit(fn func()) bool
}

// Loop runs posted functions one at a time, in post order, on the
// goroutine that called Run.
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func New(size int) *Loop {
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post reports false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run blocks until Stop is called or ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// Stop is safe to call from any goroutine, including the loop itself.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Loop) Done() <-chan struct{} { return l.done }
