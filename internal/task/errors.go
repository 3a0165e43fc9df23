package task

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDuration is reported to users whose duration text did not parse.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidDelay means a caller tried to schedule with delay <= 0.
	ErrInvalidDelay = errors.New("delay must be positive")
	// ErrNotFound means no ledger row matched. At fire time this is a no-op.
	ErrNotFound = errors.New("task not found")
	// ErrStorage matches every *StorageError via errors.Is.
	ErrStorage = errors.New("task storage error")
	// ErrUnknownHandler is wrapped by HandlerError when a ref is not registered.
	ErrUnknownHandler = errors.New("unknown handler")
)

// IsInputError reports whether err is the requester's fault and should be
// explained to them.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidDuration) || errors.Is(err, ErrInvalidDelay)
}

// StorageError wraps a record store failure from a ledger operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// HandlerError reports a failed effect. Unless the cause is Definitive the
// ledger row is left in place.
type HandlerError struct {
	Ref    HandlerRef
	Kind   string
	TaskID string
	Err    error
}

func (e *HandlerError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("handler %s (kind=%s task=%s): %v", e.Ref, e.Kind, e.TaskID, e.Err)
	}
	return fmt.Sprintf("handler %s (kind=%s): %v", e.Ref, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Definitive marks an effect failure as final: the row is deleted and the
// engine does not retry.
func Definitive(err error) error {
	if err == nil {
		return nil
	}
	return definitiveError{err: err}
}

// IsDefinitive reports whether err was wrapped with Definitive.
func IsDefinitive(err error) bool {
	var d definitiveError
	return errors.As(err, &d)
}

type definitiveError struct{ err error }

func (e definitiveError) Error() string { return fmt.Sprintf("definitive: %v", e.err) }
func (e definitiveError) Unwrap() error { return e.err }
