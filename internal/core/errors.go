package core

import (
	"errors"
	"fmt"
)

var (
	ErrAuth          = errors.New("authentication failed")
	ErrDownload      = errors.New("document download failed")
	ErrPayloadDecode = errors.New("unrecognized payload encoding")
	ErrMark          = errors.New("document marking failed")
	ErrPrint         = errors.New("print submission failed")
)

// Error attaches an operation and an optional HTTP status to one of the
// sentinel kinds above. errors.Is matches both the kind and the cause.
type Error struct {
	Kind   error
	Op     string
	Status int
	Err    error
}

func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
