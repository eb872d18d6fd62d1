package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
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
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// NotFound builds a not-found error for documents the caller checked for explicitly.
func NotFound(op, id string) *Error {
	return &Error{op: op, err: fmt.Errorf("document %s not found", id), notFound: true}
}

// IsNotFound reports whether err carries a Firestore not-found classification.
func IsNotFound(err error) bool {
	var repoErr *Error
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations pass
// through untouched, as do errors that already carry a classification.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}

	wrapped := &Error{op: op, err: err}
	switch code {
	case codes.NotFound:
		wrapped.notFound = true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		wrapped.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Unknown:
		wrapped.unavailable = true
	}
	return wrapped
}
