package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorStoreRead and ErrorStoreWrite are session store I/O failures.
	ErrorStoreRead  ErrorCode = "STORE_READ_ERROR"
	ErrorStoreWrite ErrorCode = "STORE_WRITE_ERROR"
	// ErrorCompletion covers the model and any tool it called.
	ErrorCompletion ErrorCode = "COMPLETION_ERROR"
	// ErrorPartialPersistence means a reply was produced but a turn was not
	// stored. It is reported alongside a successful reply, never instead of one.
	ErrorPartialPersistence ErrorCode = "PARTIAL_PERSISTENCE"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr.Code
	}
	return ErrorInternal
}
