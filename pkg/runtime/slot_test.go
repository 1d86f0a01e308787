package runtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSlotTakeOnce(t *testing.T) {
	s := NewSlot("loader")
	v, err := s.Take()
	if err != nil || v != "loader" {
		t.Fatalf("expected first take to succeed, got %q %v", v, err)
	}
	if _, err := s.Take(); !errors.Is(err, ErrAlreadyTaken) {
		t.Fatalf("expected ErrAlreadyTaken, got %v", err)
	}
	if !s.Taken() {
		t.Fatalf("expected slot to report taken")
	}
}

func TestSlotFill(t *testing.T) {
	s := EmptySlot[int]()
	if _, err := s.Take(); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
	if err := s.Fill(7); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := s.Fill(8); !errors.Is(err, ErrSlotFilled) {
		t.Fatalf("expected ErrSlotFilled, got %v", err)
	}
	if v, _ := s.Take(); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	if err := s.Fill(9); !errors.Is(err, ErrAlreadyTaken) {
		t.Fatalf("expected ErrAlreadyTaken after take, got %v", err)
	}
}

func TestSlotConcurrentTakersGetOneValue(t *testing.T) {
	s := NewSlot(struct{}{})
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
