package eventloop

import (
	"context"
	"testing"
	"time"
)

func TestLoopRunsInPostOrder(t *testing.T) {
	l := New(16)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(l.Stop)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order: %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(got))
	}
	if l.Post(func() {}) {
		t.Fatal("Post after Stop should fail")
	}
}

func TestLoopStopsOnContext(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-l.Done():
	default:
		t.Fatal("loop not marked done")
	}
}

func TestWorkerPostsBack(t *testing.T) {
	l := New(4)
	w := NewWorker(4)
	defer w.Close()

	result := make(chan int, 1)
	w.Submit(func() {
		l.Post(func() {
			result <- 42
			l.Stop()
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := <-result; v != 42 {
		t.Fatalf("unexpected result %d", v)
	}
}

func TestManualDrainRunsNestedPosts(t *testing.T) {
	var m Manual
	count := 0
	m.Post(func() {
		count++
		m.Post(func() { count++ })
	})
	if n := m.Drain(); n != 2 {
		t.Fatalf("expected 2 functions to run, got %d", n)
	}
	if count != 2 {
		t.Fatalf("count = %d", count)
	}
	m.Stop()
	if m.Post(func() {}) {
		t.Fatal("Post after Stop should fail")
	}
}
