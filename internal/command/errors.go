package command

import (
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrInvalidRequest matches every *RequestError via errors.Is.
var ErrInvalidRequest = errors.New("invalid request")

// RequestError reports a request rejected before any process was started.
// It collects every problem found rather than stopping at the first.
type RequestError struct {
	errs *multierror.Error
}

// Invalid builds a RequestError from one or more problems.
func Invalid(problems ...error) *RequestError {
	e := &RequestError{}
	for _, p := range problems {
		e.Add(p)
	}
	return e
}

// Add records another problem. Nil errors are ignored.
func (e *RequestError) Add(problem error) {
	if problem == nil {
		return
	}
	e.errs = multierror.Append(e.errs, problem)
	e.errs.ErrorFormat = joinProblems
}

// ErrorOrNil returns nil when no problem was recorded.
func (e *RequestError) ErrorOrNil() error {
	if e == nil || e.errs == nil || len(e.errs.Errors) == 0 {
		return nil
	}
	return e
}

// Problems returns the individual problems in the order they were added.
func (e *RequestError) Problems() []error {
	if e == nil || e.errs == nil {
		return nil
	}
	return e.errs.WrappedErrors()
}

func (e *RequestError) Error() string {
	if e.errs == nil {
		return ErrInvalidRequest.Error()
	}
	return ErrInvalidRequest.Error() + ": " + e.errs.Error()
}

func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func (e *RequestError) Unwrap() error {
	if e.errs == nil {
		return nil
	}
	return e.errs
}

func joinProblems(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
