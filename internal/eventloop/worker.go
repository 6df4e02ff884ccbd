package eventloop

import "sync"

// Worker executes submitted jobs in FIFO order on its own goroutine.
// Jobs are expected to post their result back to a Loop.
type Worker struct {
	jobs      chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewWorker(size int) *Worker {
	w := &Worker{
		jobs: make(chan func(), size),
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case job := <-w.jobs:
			job()
		}
	}
}

// Submit drops the job and reports false when the queue is full or the
// worker is closed.
func (w *Worker) Submit(fn func()) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.jobs <- fn:
		return true
	default:
		return false
	}
}

// Close waits for the running job, if any. Queued jobs are discarded.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}
