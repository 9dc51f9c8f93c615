package irrecoverable

import (
	"errors"
	"fmt"
)

// exception marks an error that a caller cannot handle. Components receiving
// one propagate it up to the point where it is thrown on a SignalerContext.
type exception struct {
	err error
}

func (e exception) Error() string {
	return e.err.Error()
}

func (e exception) Unwrap() error {
	return e.err
}

// NewException wraps err as an exception.
func NewException(err error) error {
	return exception{err: err}
}

// NewExceptionf formats an exception like fmt.Errorf.
func NewExceptionf(msg string, args ...interface{}) error {
	return exception{err: fmt.Errorf(msg, args...)}
}

// IsException returns true if an exception is part of err's chain.
func IsException(err error) bool {
	var e exception
	return errors.As(err, &e)
}
