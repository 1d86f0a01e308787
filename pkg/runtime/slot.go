package runtime

import "sync"

type slotState int

const (
	slotEmpty slotState = iota
	slotReady
	slotTaken
)

// Slot holds a value that can be taken exactly once. Concurrent takers are
// serialized; exactly one of them gets the value.
type Slot[T any] struct {
	mu    sync.Mutex
	state slotState
	value T
}

// NewSlot returns a slot holding value.
func NewSlot[T any](value T) *Slot[T] {
	return &Slot[T]{state: slotReady, value: value}
}

// EmptySlot returns a slot to be filled later.
func EmptySlot[T any]() *Slot[T] {
	return &Slot[T]{}
}

// Fill stores value in an empty slot.
func (s *Slot[T]) Fill(value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case slotReady:
		return ErrSlotFilled
	case slotTaken:
		return ErrAlreadyTaken
	}
	s.value = value
	s.state = slotReady
	return nil
}

// Take removes the value. Later calls fail with ErrAlreadyTaken.
func (s *Slot[T]) Take() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	switch s.state {
	case slotEmpty:
		return zero, ErrSlotEmpty
	case slotTaken:
		return zero, ErrAlreadyTaken
	}
	value := s.value
	s.value = zero
	s.state = slotTaken
	return value, nil
}

// Taken reports whether the value was already taken.
func (s *Slot[T]) Taken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == slotTaken
}
