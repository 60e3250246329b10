package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []int
	d := New(Config{BufferSize: 16, Workers: 1}, func(_ context.Context, v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		if !d.Enqueue(context.Background(), i) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 10 {
		t.Fatalf("expected 10 processed items, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("single worker must preserve order: got %v", got)
		}
	}
	if d.Processed() != 10 {
		t.Fatalf("expected processed counter 10, got %d", d.Processed())
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	var handled atomic.Int32
	d := New(Config{BufferSize: 1, Workers: 1, DropIfFull: true}, func(_ context.Context, _ int) {
		<-release
		handled.Add(1)
	})

	// first item occupies the worker, second fills the buffer
	d.Enqueue(context.Background(), 1)
	deadline := time.Now().Add(time.Second)
	for len(d.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Enqueue(context.Background(), 2)
	if d.Enqueue(context.Background(), 3) {
		t.Fatalf("expected third enqueue to be dropped")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped item, got %d", d.Dropped())
	}

	close(release)
	d.Close()
	if handled.Load() != 2 {
		t.Fatalf("expected 2 handled items, got %d", handled.Load())
	}
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	d := New[string](Config{}, nil)
	d.Close()
	d.Close()
	if d.Enqueue(context.Background(), "late") {
		t.Fatalf("closed dispatcher must reject items")
	}
}

func TestNilDispatcherIsInert(t *testing.T) {
	var d *Dispatcher[int]
	if d.Enqueue(context.Background(), 1) {
		t.Fatalf("nil dispatcher accepted an item")
	}
	d.Close()
	if d.Dropped() != 0 || d.Processed() != 0 {
		t.Fatalf("nil dispatcher counters must be zero")
	}
}
