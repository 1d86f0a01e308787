package logs

import (
	"context"
	"reflect"
	"testing"
	"time"
)

type collectingReceiver struct {
	batches chan []int
}

func newCollectingReceiver() *collectingReceiver {
	return &collectingReceiver{batches: make(chan []int, 16)}
}

func (r *collectingReceiver) Receive(_ context.Context, batch []int) {
	r.batches <- append([]int(nil), batch...)
}

func (r *collectingReceiver) next(t *testing.T, within time.Duration) []int {
	t.Helper()
	select {
	case batch := <-r.batches:
		return batch
	case <-time.After(within):
		t.Fatalf("expected a batch within %s", within)
		return nil
	}
}

func (r *collectingReceiver) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case batch := <-r.batches:
		t.Fatalf("expected no batch, got %v", batch)
	case <-time.After(within):
	}
}

func TestBatcherFlushesAtCapacity(t *testing.T) {
	recv := newCollectingReceiver()
	b := NewBatcher[int](recv, 2, time.Hour)

	b.Send(1)
	b.Send(2)
	b.Send(3)

	if got := recv.next(t, time.Second); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("expected [1 2], got %v", got)
	}
	recv.none(t, 100*time.Millisecond)

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := recv.next(t, time.Second); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("expected remaining [3] on close, got %v", got)
	}
}

func TestBatcherFlushesPartialBatchOnTick(t *testing.T) {
	recv := newCollectingReceiver()
	b := NewBatcher[int](recv, 2, 50*time.Millisecond)
	defer b.Close(context.Background())

	b.Send(1)
	b.Send(2)
	b.Send(3)

	if got := recv.next(t, time.Second); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("expected [1 2], got %v", got)
	}
	if got := recv.next(t, time.Second); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("expected [3] after a tick, got %v", got)
	}
}

func TestBatcherSkipsEmptyTicks(t *testing.T) {
	recv := newCollectingReceiver()
	b := NewBatcher[int](recv, 4, 10*time.Millisecond)
	defer b.Close(context.Background())

	recv.none(t, 100*time.Millisecond)
}

func TestBatcherDropsItemsAfterClose(t *testing.T) {
	recv := newCollectingReceiver()
	b := NewBatcher[int](recv, 4, time.Hour)
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	b.Send(1)
	recv.none(t, 50*time.Millisecond)
}

func TestWrapUsesDefaults(t *testing.T) {
	b := Wrap[int](newCollectingReceiver())
	defer b.Close(context.Background())
	if b.capacity != DefaultBatchCapacity || b.interval != DefaultBatchInterval {
		t.Fatalf("unexpected defaults: %d / %s", b.capacity, b.interval)
	}
}
