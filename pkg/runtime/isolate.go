package runtime

import "fmt"

// NoPanicMessage is reported when a panic value carries no readable message.
const NoPanicMessage = "<no panic message>"

// PanicError is the failure reported for user code that panicked.
type PanicError struct {
	Message string
	Value   any
}

func (e *PanicError) Error() string {
	return e.Message
}

// Isolate runs fn on its own goroutine and waits for it. A panic or
// runtime.Goexit inside fn is returned as a *PanicError instead of taking the
// process down.
func Isolate(fn func() error) error {
	_, err := isolate(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func isolate[T any](fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		returned := false
		defer func() {
			if returned {
				return
			}
			if r := recover(); r != nil {
				done <- result{err: &PanicError{Message: panicMessage(r), Value: r}}
				return
			}
			done <- result{err: &PanicError{Message: "user code exited its goroutine"}}
		}()
		value, err := fn()
		returned = true
		done <- result{value: value, err: err}
	}()
	res := <-done
	return res.value, res.err
}

func panicMessage(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return NoPanicMessage
	}
}
