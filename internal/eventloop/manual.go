package eventloop

import "sync"

// Manual is a Poster and Submitter that only runs queued functions when
// Drain is called. Tests use it to step the controller deterministically
// on the test goroutine.
type Manual struct {
	mu      sync.Mutex
	pending []func()
	stopped bool
}

func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.pending = append(m.pending, fn)
	return true
}

func (m *Manual) Submit(fn func()) bool { return m.Post(fn) }

// Stop makes every later Post fail and discards what is queued.
func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.pending = nil
}

// Drain runs queued functions, including ones they enqueue, until the
// queue is empty. It returns how many ran.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
