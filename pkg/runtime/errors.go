package runtime

import "errors"

var (
	// ErrAlreadyTaken is returned when a take-once capability was already consumed.
	ErrAlreadyTaken = errors.New("runtime: already taken")
	// ErrSlotEmpty is returned when taking from a slot that was never filled.
	ErrSlotEmpty = errors.New("runtime: slot empty")
	// ErrSlotFilled is returned when filling a slot that already holds a value.
	ErrSlotFilled = errors.New("runtime: slot already filled")
	// ErrNotLoaded is returned by Start before a successful Load.
	ErrNotLoaded = errors.New("runtime: service not loaded")
	// ErrNotRunning is returned by Stop when no service is running.
	ErrNotRunning = errors.New("runtime: service not running")
	// ErrInvalidAddress is returned by Start for an unusable bind address.
	ErrInvalidAddress = errors.New("runtime: invalid bind address")
)
