package logs

import (
	"sync"
	"testing"
)

func TestQueuePreservesOrderAcrossProducers(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(base*1000 + i)
			}
		}(p)
	}
	wg.Wait()

	items, closed := q.Drain()
	if closed {
		t.Fatalf("expected queue to be open")
	}
	if len(items) != 400 {
		t.Fatalf("expected 400 items, got %d", len(items))
	}
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, item := range items {
		producer, seq := item/1000, item%1000
		if seq <= last[producer] {
			t.Fatalf("producer %d items out of order: %d after %d", producer, seq, last[producer])
		}
		last[producer] = seq
	}
}

func TestQueueCloseKeepsBufferedItems(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Close()
	if q.Push("b") {
		t.Fatalf("expected push after close to be rejected")
	}
	item, ok := q.TryPop()
	if !ok || item != "a" {
		t.Fatalf("expected buffered item, got %q %v", item, ok)
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("expected queue to be empty")
	}
	if !q.Closed() {
		t.Fatalf("expected queue to report closed")
	}
}
