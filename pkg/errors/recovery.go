package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered value into a fatal ErrInternal that
// carries the stack of the panicking goroutine.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	case string:
		cause = fmt.Errorf("panic: %s", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}

// Guard runs fn and reports a panic as an error instead of unwinding.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RecoverPanic(r)
		}
	}()
	fn()
	return nil
}

func StackTrace(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if s, ok := appErr.Details["stack_trace"].(string); ok {
			return s
		}
	}
	return ""
}
