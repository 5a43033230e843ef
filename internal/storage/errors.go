// Package storage holds the relational model shared by the chat orchestrator
// and the HTTP surface.
package storage

import "errors"

var (
	ErrNotFound    = errors.New("record not found")
	ErrPersistence = errors.New("persistence failure")
)

// OpError reports a failed store operation. It matches both ErrPersistence
// and the underlying driver error.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
