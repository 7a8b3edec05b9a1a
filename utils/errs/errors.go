// Package errs holds the error taxonomy shared by the storage and
// replication layers.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is a backing storage or channel failure.
	ErrIO = errors.New("colstore: i/o failure")
	// ErrOutOfBounds is a read past the committed or mapped extent.
	ErrOutOfBounds = errors.New("colstore: out of bounds")
	// ErrCorruptData is an invariant violation found in stored or received bytes.
	ErrCorruptData = errors.New("colstore: corrupt data")
	// ErrProtocol is a truncated or malformed delta exchange.
	ErrProtocol = errors.New("colstore: protocol error")
)

// Error binds one of the sentinel kinds to the failing operation and,
// optionally, the underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.Error() + ": " + e.Op
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a formatted message.
func New(kind error, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind around cause. A nil cause yields nil.
func Wrap(kind error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}
