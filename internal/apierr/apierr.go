// Package apierr classifies domain errors into HTTP status codes, so
// handlers never hand-pick a status for an error they didn't construct.
package apierr

import (
	"errors"
	"net/http"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/scheduler"
)

// Kind is a coarse classification of a request-handling failure.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
	KindConflict
)

// Error wraps an underlying cause with the Kind a handler should map to an
// HTTP status.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

// StatusFor maps err to the HTTP status a handler should respond with. An
// *Error's Kind takes precedence; a handful of well-known sentinel errors
// from internal/job and internal/scheduler are recognized directly so
// callers need not wrap them explicitly.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindBadRequest:
			return http.StatusBadRequest
		case KindNotFound:
			return http.StatusNotFound
		case KindConflict:
			return http.StatusConflict
		default:
			return http.StatusInternalServerError
		}
	}

	switch {
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
