package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Error implements repositories.RepositoryError for Mongo backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// NotFound builds a not-found error for documents matched by an explicit filter.
func NotFound(op, id string) *Error {
	return &Error{op: op, err: fmt.Errorf("document %s not found", id), notFound: true}
}

// WrapError classifies driver errors. Context errors and already classified errors pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}

	wrapped := &Error{op: op, err: err}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		wrapped.notFound = true
	case mongo.IsDuplicateKeyError(err):
		wrapped.conflict = true
	case mongo.IsTimeout(err), mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		wrapped.unavailable = true
	}
	return wrapped
}
