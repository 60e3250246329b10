// Package dispatch runs fire-and-forget work items on background goroutines.
//
// It backs both audit event delivery and outbound email: callers enqueue and
// return immediately, handlers run later and own their own error reporting.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls buffering and worker count.
type Config struct {
	BufferSize int
	Workers    int
	// DropIfFull makes Enqueue non-blocking; overflow is counted in Dropped.
	DropIfFull bool
}

// Handler processes one item. The context carries no deadline; handlers
// that block on I/O bound themselves.
type Handler[T any] func(ctx context.Context, item T)

// Dispatcher is a bounded queue drained by Workers goroutines.
type Dispatcher[T any] struct {
	cfg       Config
	handle    Handler[T]
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	processed atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func New[T any](cfg Config, handle Handler[T]) *Dispatcher[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if handle == nil {
		handle = func(context.Context, T) {}
	}

	d := &Dispatcher[T]{
		cfg:    cfg,
		handle: handle,
		ch:     make(chan T, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}

	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.process(item)
		case <-d.done:
			// drain whatever is already buffered before exiting
			for {
				select {
				case item := <-d.ch:
					d.process(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) process(item T) {
	d.handle(context.Background(), item)
	d.processed.Add(1)
}

// Enqueue hands item to the workers. It reports false when the item was
// dropped or the dispatcher is closed.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
			return true
		case <-d.done:
			return false
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.ch <- item:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	case <-d.done:
		return false
	}
}

// Close stops accepting items, drains the buffer and waits for the workers.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher[T]) Processed() uint64 {
	if d == nil {
		return 0
	}
	return d.processed.Load()
}
