package logs

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultBatchCapacity is the number of items that triggers an immediate flush.
	DefaultBatchCapacity = 256
	// DefaultBatchInterval is the period of the flush timer.
	DefaultBatchInterval = time.Second
)

// Receiver consumes flushed batches. Receive is called from a single goroutine
// and may block; items keep queueing meanwhile.
type Receiver[T any] interface {
	Receive(ctx context.Context, batch []T)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc[T any] func(ctx context.Context, batch []T)

// Receive calls f(ctx, batch).
func (f ReceiverFunc[T]) Receive(ctx context.Context, batch []T) { f(ctx, batch) }

// Batcher groups items sent from any number of goroutines into batches and
// hands them to a Receiver when the batch is full or the flush timer fires.
type Batcher[T any] struct {
	inner    Receiver[T]
	queue    *Queue[T]
	capacity int
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

// Wrap returns a Batcher with the default capacity and interval.
func Wrap[T any](inner Receiver[T]) *Batcher[T] {
	return NewBatcher(inner, DefaultBatchCapacity, DefaultBatchInterval)
}

// NewBatcher starts the consumer goroutine and returns the Batcher.
func NewBatcher[T any](inner Receiver[T], capacity int, interval time.Duration) *Batcher[T] {
	if capacity <= 0 {
		capacity = DefaultBatchCapacity
	}
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	b := &Batcher[T]{
		inner:    inner,
		queue:    NewQueue[T](),
		capacity: capacity,
		interval: interval,
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Send queues item for the next batch. It never blocks; items sent after Close are dropped.
func (b *Batcher[T]) Send(item T) {
	b.queue.Push(item)
}

// Close stops intake, flushes what is queued and waits for the consumer to exit.
func (b *Batcher[T]) Close(ctx context.Context) error {
	b.once.Do(b.queue.Close)
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher[T]) run() {
	defer close(b.done)
	ctx := context.Background()

	// time.Ticker drops ticks the consumer was too busy to receive.
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	batch := make([]T, 0, b.capacity)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		out := batch
		batch = make([]T, 0, b.capacity)
		b.inner.Receive(ctx, out)
	}

	for {
		select {
		case <-b.queue.Ready():
			items, closed := b.queue.Drain()
			for _, item := range items {
				batch = append(batch, item)
				if len(batch) >= b.capacity {
					flush()
				}
			}
			if closed {
				flush()
				return
			}
		case <-ticker.C:
			flush()
		}
	}
}
